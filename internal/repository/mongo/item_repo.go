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

// mongoItemRepository implements repository.ItemRepository. Options are
// embedded in the item document.
type mongoItemRepository struct {
	collections
}

func NewMongoItemRepository(db *mongo.Database, txTimeout time.Duration) repository.ItemRepository {
	return &mongoItemRepository{collections: newCollections(db, txTimeout)}
}

func (r *mongoItemRepository) Append(ctx context.Context, item *domain.Item) error {
	var created domain.Item
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		var u domain.Unit
		if err := r.units.FindOne(sc, bson.M{"_id": item.UnitID}).Decode(&u); err != nil {
			return classify(err)
		}
		now := time.Now().UTC()
		p, err := r.touchProgram(sc, u.ProgramID, now)
		if err != nil {
			return err
		}
		existing, err := r.sequences(sc, r.items, bson.M{"unitId": u.ID})
		if err != nil {
			return err
		}
		batch := []domain.Item{*item}
		batch[0].Options = append([]domain.Option(nil), item.Options...)
		if err := prepareItems(p.Kind, u, batch, existing, now); err != nil {
			return err
		}
		if _, err := r.items.InsertOne(sc, batch[0]); err != nil {
			return classify(err)
		}
		created = batch[0]
		return nil
	})
	if err != nil {
		return err
	}
	*item = created
	return nil
}

func (r *mongoItemRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Item, error) {
	var it domain.Item
	if err := r.items.FindOne(ctx, bson.M{"_id": id}).Decode(&it); err != nil {
		return nil, classify(err)
	}
	return &it, nil
}

func (r *mongoItemRepository) ListByUnit(ctx context.Context, unitID primitive.ObjectID) ([]domain.Item, error) {
	cursor, err := r.items.Find(ctx, bson.M{"unitId": unitID}, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	defer cursor.Close(ctx)

	items := []domain.Item{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, classify(err)
	}
	return items, nil
}

func (r *mongoItemRepository) Update(ctx context.Context, item *domain.Item) error {
	if item.Name == "" {
		return fmt.Errorf("%w: item name is required", repository.ErrInvariantViolation)
	}
	var updated domain.Item
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		current, err := r.GetByID(sc, item.ID)
		if err != nil {
			return err
		}
		switch {
		case current.Kind == domain.ItemKindExercise && item.Exercise == nil:
			return fmt.Errorf("%w: exercise item requires a target", repository.ErrInvariantViolation)
		case current.Kind == domain.ItemKindCategory && item.Exercise != nil:
			return fmt.Errorf("%w: category item cannot carry an exercise target", repository.ErrInvariantViolation)
		}
		now := time.Now().UTC()
		if _, err := r.touchProgram(sc, current.ProgramID, now); err != nil {
			return err
		}
		set := bson.M{"name": item.Name, "notes": item.Notes, "updatedAt": now}
		if item.Exercise != nil {
			set["exercise"] = item.Exercise
		}
		return classify(r.items.FindOneAndUpdate(sc, bson.M{"_id": item.ID}, bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated))
	})
	if err != nil {
		return err
	}
	*item = updated
	return nil
}

func (r *mongoItemRepository) Reorder(ctx context.Context, unitID primitive.ObjectID, orderedIDs []primitive.ObjectID) error {
	return r.inTx(ctx, func(sc mongo.SessionContext) error {
		var u domain.Unit
		if err := r.units.FindOne(sc, bson.M{"_id": unitID}).Decode(&u); err != nil {
			return classify(err)
		}
		now := time.Now().UTC()
		if _, err := r.touchProgram(sc, u.ProgramID, now); err != nil {
			return err
		}
		return r.reorder(sc, r.items, bson.M{"unitId": unitID}, orderedIDs, now)
	})
}

func (r *mongoItemRepository) Delete(ctx context.Context, id primitive.ObjectID, cascade bool) error {
	return r.inTx(ctx, func(sc mongo.SessionContext) error {
		it, err := r.GetByID(sc, id)
		if err != nil {
			return err
		}
		if _, err := r.touchProgram(sc, it.ProgramID, time.Now().UTC()); err != nil {
			return err
		}
		refs := bson.M{"itemId": id}
		n, err := r.countCompletions(sc, refs)
		if err != nil {
			return err
		}
		if n > 0 && !cascade {
			return fmt.Errorf("%w: %d completions reference item", repository.ErrInvariantViolation, n)
		}
		if _, err := r.completions.DeleteMany(sc, refs); err != nil {
			return classify(err)
		}
		_, err = r.items.DeleteOne(sc, bson.M{"_id": id})
		return classify(err)
	})
}

func (r *mongoItemRepository) AddOption(ctx context.Context, itemID primitive.ObjectID, option *domain.Option) error {
	if option.Name == "" {
		return fmt.Errorf("%w: option name is required", repository.ErrInvariantViolation)
	}
	candidate := *option
	candidate.ID = primitive.NewObjectID()
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		it, err := r.GetByID(sc, itemID)
		if err != nil {
			return err
		}
		if it.Kind != domain.ItemKindCategory {
			return fmt.Errorf("%w: options belong to category items only", repository.ErrInvariantViolation)
		}
		now := time.Now().UTC()
		if _, err := r.touchProgram(sc, it.ProgramID, now); err != nil {
			return err
		}
		_, err = r.items.UpdateOne(sc, bson.M{"_id": itemID}, bson.M{
			"$push": bson.M{"options": candidate},
			"$set":  bson.M{"updatedAt": now},
		})
		return classify(err)
	})
	if err != nil {
		return err
	}
	*option = candidate
	return nil
}

func (r *mongoItemRepository) RemoveOption(ctx context.Context, itemID, optionID primitive.ObjectID) error {
	return r.inTx(ctx, func(sc mongo.SessionContext) error {
		it, err := r.GetByID(sc, itemID)
		if err != nil {
			return err
		}
		if _, found := it.Option(optionID); !found {
			return repository.ErrNotFound
		}
		if len(it.Options) == 1 {
			return fmt.Errorf("%w: category must keep at least one option", repository.ErrInvariantViolation)
		}
		n, err := r.countCompletions(sc, bson.M{"itemId": itemID, "meal.optionId": optionID})
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d completions chose this option", repository.ErrInvariantViolation, n)
		}
		now := time.Now().UTC()
		if _, err := r.touchProgram(sc, it.ProgramID, now); err != nil {
			return err
		}
		_, err = r.items.UpdateOne(sc, bson.M{"_id": itemID}, bson.M{
			"$pull": bson.M{"options": bson.M{"_id": optionID}},
			"$set":  bson.M{"updatedAt": now},
		})
		return classify(err)
	})
}

// EnsureItemIndexes enforces unique order keys within a unit.
func EnsureItemIndexes(ctx context.Context, collection *mongo.Collection) {
	createIndexes(ctx, collection, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "unitId", Value: 1}, {Key: "sequence", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "programId", Value: 1}}},
	})
}
