package mongo

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/repository"
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoUnitRepository implements repository.UnitRepository
type mongoUnitRepository struct {
	collections
}

func NewMongoUnitRepository(db *mongo.Database, txTimeout time.Duration) repository.UnitRepository {
	return &mongoUnitRepository{collections: newCollections(db, txTimeout)}
}

func (r *mongoUnitRepository) Append(ctx context.Context, unit *domain.Unit, items []domain.Item) error {
	if unit.Name == "" {
		return fmt.Errorf("%w: unit name is required", repository.ErrInvariantViolation)
	}
	requestedSeq := unit.Sequence

	var created domain.Unit
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		now := time.Now().UTC()
		p, err := r.touchProgram(sc, unit.ProgramID, now)
		if err != nil {
			return err
		}
		existing, err := r.sequences(sc, r.units, bson.M{"programId": p.ID})
		if err != nil {
			return err
		}
		seqs, err := repository.PlanSequences(existing, []int{requestedSeq})
		if err != nil {
			return err
		}

		created = *unit
		created.ID = primitive.NewObjectID()
		created.Sequence = seqs[0]
		created.CreatedAt, created.UpdatedAt = now, now
		if err := prepareItems(p.Kind, created, items, nil, now); err != nil {
			return err
		}

		if _, err := r.units.InsertOne(sc, created); err != nil {
			return classify(err)
		}
		if len(items) > 0 {
			docs := make([]interface{}, len(items))
			for i := range items {
				docs[i] = items[i]
			}
			if _, err := r.items.InsertMany(sc, docs); err != nil {
				return classify(err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	*unit = created
	return nil
}

func (r *mongoUnitRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Unit, error) {
	var u domain.Unit
	if err := r.units.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, classify(err)
	}
	return &u, nil
}

func (r *mongoUnitRepository) ListByProgram(ctx context.Context, programID primitive.ObjectID) ([]domain.Unit, error) {
	cursor, err := r.units.Find(ctx, bson.M{"programId": programID}, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	defer cursor.Close(ctx)

	units := []domain.Unit{}
	if err := cursor.All(ctx, &units); err != nil {
		return nil, classify(err)
	}
	return units, nil
}

func (r *mongoUnitRepository) Update(ctx context.Context, unit *domain.Unit) error {
	if unit.Name == "" {
		return fmt.Errorf("%w: unit name is required", repository.ErrInvariantViolation)
	}
	var updated domain.Unit
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		current, err := r.GetByID(sc, unit.ID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if _, err := r.touchProgram(sc, current.ProgramID, now); err != nil {
			return err
		}
		return classify(r.units.FindOneAndUpdate(sc, bson.M{"_id": unit.ID},
			bson.M{"$set": bson.M{
				"name":         unit.Name,
				"notes":        unit.Notes,
				"scheduledFor": unit.ScheduledFor,
				"updatedAt":    now,
			}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&updated))
	})
	if err != nil {
		return err
	}
	*unit = updated
	return nil
}

func (r *mongoUnitRepository) Reorder(ctx context.Context, programID primitive.ObjectID, orderedIDs []primitive.ObjectID) error {
	return r.inTx(ctx, func(sc mongo.SessionContext) error {
		now := time.Now().UTC()
		if _, err := r.touchProgram(sc, programID, now); err != nil {
			return err
		}
		return r.reorder(sc, r.units, bson.M{"programId": programID}, orderedIDs, now)
	})
}

func (r *mongoUnitRepository) Delete(ctx context.Context, id primitive.ObjectID, cascade bool) error {
	return r.inTx(ctx, func(sc mongo.SessionContext) error {
		u, err := r.GetByID(sc, id)
		if err != nil {
			return err
		}
		if _, err := r.touchProgram(sc, u.ProgramID, time.Now().UTC()); err != nil {
			return err
		}
		refs := bson.M{"unitId": id}
		n, err := r.countCompletions(sc, refs)
		if err != nil {
			return err
		}
		if n > 0 && !cascade {
			return fmt.Errorf("%w: %d completions reference unit", repository.ErrInvariantViolation, n)
		}
		if _, err := r.completions.DeleteMany(sc, refs); err != nil {
			return classify(err)
		}
		if _, err := r.items.DeleteMany(sc, refs); err != nil {
			return classify(err)
		}
		_, err = r.units.DeleteOne(sc, bson.M{"_id": id})
		return classify(err)
	})
}

// EnsureUnitIndexes enforces unique order keys within a program.
func EnsureUnitIndexes(ctx context.Context, collection *mongo.Collection) {
	createIndexes(ctx, collection, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "programId", Value: 1}, {Key: "sequence", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
}
