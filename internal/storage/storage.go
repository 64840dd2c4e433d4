package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Default expiry duration for presigned URLs
const DefaultPresignedURLExpiry = 15 * time.Minute

var (
	ErrStorageDisabled        = errors.New("media storage is not configured")
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

// FileStorage is the Media Store. Objects are addressed by key; the key is
// the opaque reference stored on a completion.
type FileStorage interface {
	// GeneratePresignedUploadURL creates a temporary URL that allows a PUT of
	// objectKey with the given content type.
	GeneratePresignedUploadURL(ctx context.Context, objectKey string, contentType string, expires time.Duration) (string, error)

	// GeneratePresignedDownloadURL creates a temporary URL that allows a GET
	// of objectKey.
	GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)

	DeleteObject(ctx context.Context, objectKey string) error
}

var photoExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
}

// MealPhotoPrefix is the key prefix of every photo uploaded for a program by
// one subject.
func MealPhotoPrefix(programID, subjectID primitive.ObjectID) string {
	return fmt.Sprintf("meal-photos/%s/%s/", programID.Hex(), subjectID.Hex())
}

// MealPhotoKey returns a fresh object key for a meal photo.
func MealPhotoKey(programID, subjectID primitive.ObjectID, contentType string) (string, error) {
	ext, ok := photoExtensions[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	return MealPhotoPrefix(programID, subjectID) + uuid.NewString() + "." + ext, nil
}

// OwnsPhotoKey reports whether key was issued for this program and subject.
func OwnsPhotoKey(key string, programID, subjectID primitive.ObjectID) bool {
	return strings.HasPrefix(key, MealPhotoPrefix(programID, subjectID)) && !strings.Contains(key, "..")
}

// Disabled is used when no media backend is configured.
type Disabled struct{}

func (Disabled) GeneratePresignedUploadURL(context.Context, string, string, time.Duration) (string, error) {
	return "", ErrStorageDisabled
}

func (Disabled) GeneratePresignedDownloadURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrStorageDisabled
}

func (Disabled) DeleteObject(context.Context, string) error {
	return ErrStorageDisabled
}
