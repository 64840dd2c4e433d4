package mongo

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/repository"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoCompletionRepository implements repository.CompletionRepository
type mongoCompletionRepository struct {
	collections
}

func NewMongoCompletionRepository(db *mongo.Database, txTimeout time.Duration) repository.CompletionRepository {
	return &mongoCompletionRepository{collections: newCollections(db, txTimeout)}
}

// Upsert writes the completion under its natural key. The item lookup, the
// program touch and the write share one transaction, so a concurrent unit or
// item delete either sees the completion or makes this write fail.
func (r *mongoCompletionRepository) Upsert(ctx context.Context, c *domain.Completion) (*domain.Completion, error) {
	if c.OccurrenceKey == "" || c.SubjectID.IsZero() {
		return nil, fmt.Errorf("%w: completion requires occurrence and subject", repository.ErrInvariantViolation)
	}
	draft := *c
	var (
		prev   *domain.Completion
		stored domain.Completion
	)
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		prev = nil
		stored = draft

		var it domain.Item
		if err := r.items.FindOne(sc, bson.M{"_id": draft.ItemID}).Decode(&it); err != nil {
			return classify(err)
		}
		now := time.Now().UTC()
		p, err := r.touchProgram(sc, it.ProgramID, now)
		if err != nil {
			return err
		}
		if p.SubjectID != draft.SubjectID {
			return fmt.Errorf("%w: completion actor is not the program's subject", repository.ErrInvariantViolation)
		}

		stored.UnitID = it.UnitID
		stored.ProgramID = it.ProgramID
		stored.Kind = it.Kind
		stored.UpdatedAt = now

		key := bson.M{"itemId": draft.ItemID, "occurrenceKey": draft.OccurrenceKey, "subjectId": draft.SubjectID}
		var existing domain.Completion
		err = r.completions.FindOne(sc, key).Decode(&existing)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			stored.ID = primitive.NewObjectID()
			stored.CreatedAt = now
			stored.Revision = 1
		case err != nil:
			return classify(err)
		default:
			prev = &existing
			stored.ID = existing.ID
			stored.CreatedAt = existing.CreatedAt
			stored.Revision = existing.Revision + 1
		}

		stored.Approval = nil
		if stored.Kind == domain.ItemKindCategory {
			var prevApproval *domain.Approval
			if prev != nil {
				prevApproval = prev.Approval
			}
			stored.Approval = domain.NewPendingApproval(prevApproval, stored.SubjectID, stored.Revision, now)
		}

		if prev == nil {
			_, err = r.completions.InsertOne(sc, stored)
		} else {
			_, err = r.completions.ReplaceOne(sc, bson.M{"_id": stored.ID}, stored)
		}
		return classify(err)
	})
	if err != nil {
		return nil, err
	}
	*c = stored
	return prev, nil
}

func (r *mongoCompletionRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Completion, error) {
	var c domain.Completion
	if err := r.completions.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

func (r *mongoCompletionRepository) find(ctx context.Context, filter bson.M) ([]domain.Completion, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurrenceKey", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := r.completions.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(err)
	}
	defer cursor.Close(ctx)

	out := []domain.Completion{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *mongoCompletionRepository) ListByProgram(ctx context.Context, programID primitive.ObjectID) ([]domain.Completion, error) {
	return r.find(ctx, bson.M{"programId": programID})
}

func (r *mongoCompletionRepository) ListByItem(ctx context.Context, itemID primitive.ObjectID) ([]domain.Completion, error) {
	return r.find(ctx, bson.M{"itemId": itemID})
}

// TransitionApproval is a single-document compare-and-swap. The filter pins
// both the approval state and the revision observed on read, so a concurrent
// decision or resubmission turns into ErrConflict instead of an overwrite.
func (r *mongoCompletionRepository) TransitionApproval(ctx context.Context, id primitive.ObjectID, t repository.ApprovalTransition) (*domain.Completion, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Approval == nil || current.Approval.State != t.From {
		return nil, repository.ErrConflict
	}
	revision := current.Revision
	if t.ExpectedRevision != nil {
		if *t.ExpectedRevision != revision {
			return nil, repository.ErrConflict
		}
	}

	d := t.Decision
	d.From, d.To, d.Revision = t.From, t.To, revision
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	filter := bson.M{"_id": id, "approval.state": t.From, "revision": revision}
	update := bson.M{
		"$set":  bson.M{"approval.state": t.To, "updatedAt": d.At},
		"$push": bson.M{"approval.decisions": d},
	}

	var updated domain.Completion
	err = r.completions.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrConflict
	}
	if err != nil {
		return nil, classify(err)
	}
	return &updated, nil
}

// EnsureCompletionIndexes makes the natural key unique.
func EnsureCompletionIndexes(ctx context.Context, collection *mongo.Collection) {
	createIndexes(ctx, collection, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "itemId", Value: 1}, {Key: "occurrenceKey", Value: 1}, {Key: "subjectId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "programId", Value: 1}, {Key: "occurrenceKey", Value: -1}}},
		{Keys: bson.D{{Key: "unitId", Value: 1}}},
	})
}
