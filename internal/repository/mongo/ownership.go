package mongo

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/repository"
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoOwnershipReader resolves ownership with projected lookups: one read
// for the child's programId, one for the program's coach and subject.
type mongoOwnershipReader struct {
	collections
}

func NewMongoOwnershipReader(db *mongo.Database) repository.OwnershipReader {
	return &mongoOwnershipReader{collections: newCollections(db, 0)}
}

func (r *mongoOwnershipReader) ProgramOwnership(ctx context.Context, programID primitive.ObjectID) (domain.Ownership, error) {
	var o domain.Ownership
	err := r.programs.FindOne(ctx, bson.M{"_id": programID},
		options.FindOne().SetProjection(bson.M{"coachId": 1, "subjectId": 1})).Decode(&o)
	if err != nil {
		return domain.Ownership{}, classify(err)
	}
	return o, nil
}

func (r *mongoOwnershipReader) viaParent(ctx context.Context, coll *mongo.Collection, id primitive.ObjectID) (domain.Ownership, error) {
	var ref struct {
		ProgramID primitive.ObjectID `bson:"programId"`
	}
	err := coll.FindOne(ctx, bson.M{"_id": id},
		options.FindOne().SetProjection(bson.M{"programId": 1})).Decode(&ref)
	if err != nil {
		return domain.Ownership{}, classify(err)
	}
	return r.ProgramOwnership(ctx, ref.ProgramID)
}

func (r *mongoOwnershipReader) UnitOwnership(ctx context.Context, unitID primitive.ObjectID) (domain.Ownership, error) {
	return r.viaParent(ctx, r.units, unitID)
}

func (r *mongoOwnershipReader) ItemOwnership(ctx context.Context, itemID primitive.ObjectID) (domain.Ownership, error) {
	return r.viaParent(ctx, r.items, itemID)
}

func (r *mongoOwnershipReader) CompletionOwnership(ctx context.Context, completionID primitive.ObjectID) (domain.Ownership, error) {
	return r.viaParent(ctx, r.completions, completionID)
}
