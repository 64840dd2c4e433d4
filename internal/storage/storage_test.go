package storage

import (
	"alcyxob/coachsync/internal/config"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMealPhotoKey(t *testing.T) {
	programID, subjectID := primitive.NewObjectID(), primitive.NewObjectID()

	key, err := MealPhotoKey(programID, subjectID, "image/JPEG")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".jpg"))
	assert.True(t, OwnsPhotoKey(key, programID, subjectID))
	assert.False(t, OwnsPhotoKey(key, programID, primitive.NewObjectID()))
	assert.False(t, OwnsPhotoKey(MealPhotoPrefix(programID, subjectID)+"../x.jpg", programID, subjectID))

	other, err := MealPhotoKey(programID, subjectID, "image/png")
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	_, err = MealPhotoKey(programID, subjectID, "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "", endpointURL(config.S3Config{}))
	assert.Equal(t, "http://minio:9000", endpointURL(config.S3Config{Endpoint: "minio:9000"}))
	assert.Equal(t, "https://minio:9000", endpointURL(config.S3Config{Endpoint: "minio:9000", UseSSL: true}))
	assert.Equal(t, "http://x", endpointURL(config.S3Config{Endpoint: "http://x", UseSSL: true}))
}

func TestS3PresignsWithoutNetwork(t *testing.T) {
	fs, err := NewS3Storage(context.Background(), config.S3Config{
		Endpoint: "localhost:9000", Region: "us-east-1",
		AccessKeyID: "key", SecretAccessKey: "secret", BucketName: "photos",
	})
	require.NoError(t, err)

	put, err := fs.GeneratePresignedUploadURL(context.Background(), "meal-photos/a/b/c.jpg", "image/jpeg", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, put, "http://localhost:9000/photos/meal-photos/a/b/c.jpg")
	assert.Contains(t, put, "X-Amz-Expires=60")

	get, err := fs.GeneratePresignedDownloadURL(context.Background(), "meal-photos/a/b/c.jpg", 0)
	require.NoError(t, err)
	assert.Contains(t, get, "X-Amz-Expires=900")
}

func TestDisabled(t *testing.T) {
	var fs FileStorage = Disabled{}
	_, err := fs.GeneratePresignedUploadURL(context.Background(), "k", "image/png", 0)
	assert.ErrorIs(t, err, ErrStorageDisabled)
	assert.ErrorIs(t, fs.DeleteObject(context.Background(), "k"), ErrStorageDisabled)
}
