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

// mongoProgramRepository implements repository.ProgramRepository
type mongoProgramRepository struct {
	collections
}

// NewMongoProgramRepository creates a program repository whose transactions
// are bounded by txTimeout.
func NewMongoProgramRepository(db *mongo.Database, txTimeout time.Duration) repository.ProgramRepository {
	return &mongoProgramRepository{collections: newCollections(db, txTimeout)}
}

// CreateWithUnits inserts the program, its units and their items in one transaction.
func (r *mongoProgramRepository) CreateWithUnits(ctx context.Context, tree *domain.ProgramTree) error {
	p := &tree.Program
	if p.CoachID.IsZero() || p.SubjectID.IsZero() || p.Name == "" {
		return fmt.Errorf("%w: program requires coach, subject and name", repository.ErrInvariantViolation)
	}

	now := time.Now().UTC()
	p.ID = primitive.NewObjectID()
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now

	requested := make([]int, len(tree.Units))
	for i := range tree.Units {
		requested[i] = tree.Units[i].Unit.Sequence
	}
	seqs, err := repository.PlanSequences(nil, requested)
	if err != nil {
		return err
	}

	var units, items []interface{}
	for i := range tree.Units {
		u := &tree.Units[i].Unit
		u.ID = primitive.NewObjectID()
		u.ProgramID = p.ID
		u.Sequence = seqs[i]
		u.CreatedAt, u.UpdatedAt = now, now
		units = append(units, u)

		if err := prepareItems(p.Kind, *u, tree.Units[i].Items, nil, now); err != nil {
			return err
		}
		for j := range tree.Units[i].Items {
			items = append(items, &tree.Units[i].Items[j])
		}
	}

	return r.inTx(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.programs.InsertOne(sc, p); err != nil {
			return classify(err)
		}
		if len(units) > 0 {
			if _, err := r.units.InsertMany(sc, units); err != nil {
				return classify(err)
			}
		}
		if len(items) > 0 {
			if _, err := r.items.InsertMany(sc, items); err != nil {
				return classify(err)
			}
		}
		return nil
	})
}

// prepareItems validates a batch of new items for one unit and assigns IDs,
// parents and sequences in place.
func prepareItems(kind domain.ProgramKind, unit domain.Unit, items []domain.Item, existing []int, now time.Time) error {
	requested := make([]int, len(items))
	for i := range items {
		if items[i].Kind != kind.ItemKind() {
			return fmt.Errorf("%w: %s program cannot hold %s items", repository.ErrInvariantViolation, kind, items[i].Kind)
		}
		if !items[i].WellFormed() {
			return fmt.Errorf("%w: item %q does not match kind %q", repository.ErrInvariantViolation, items[i].Name, items[i].Kind)
		}
		requested[i] = items[i].Sequence
	}
	seqs, err := repository.PlanSequences(existing, requested)
	if err != nil {
		return err
	}
	for i := range items {
		items[i].ID = primitive.NewObjectID()
		items[i].UnitID = unit.ID
		items[i].ProgramID = unit.ProgramID
		items[i].Sequence = seqs[i]
		items[i].CreatedAt, items[i].UpdatedAt = now, now
		for j := range items[i].Options {
			if items[i].Options[j].ID.IsZero() {
				items[i].Options[j].ID = primitive.NewObjectID()
			}
		}
	}
	return nil
}

func (r *mongoProgramRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Program, error) {
	var p domain.Program
	if err := r.programs.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

// GetTree reads the program, its units and items in one transaction so the
// three reads see the same snapshot.
func (r *mongoProgramRepository) GetTree(ctx context.Context, id primitive.ObjectID) (*domain.ProgramTree, error) {
	var tree *domain.ProgramTree
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		p, err := r.GetByID(sc, id)
		if err != nil {
			return err
		}
		var units []domain.Unit
		cursor, err := r.units.Find(sc, bson.M{"programId": id}, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
		if err != nil {
			return classify(err)
		}
		if err := cursor.All(sc, &units); err != nil {
			return classify(err)
		}
		var items []domain.Item
		cursor, err = r.items.Find(sc, bson.M{"programId": id}, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
		if err != nil {
			return classify(err)
		}
		if err := cursor.All(sc, &items); err != nil {
			return classify(err)
		}

		byUnit := make(map[primitive.ObjectID][]domain.Item, len(units))
		for _, it := range items {
			byUnit[it.UnitID] = append(byUnit[it.UnitID], it)
		}
		tree = &domain.ProgramTree{Program: *p, Units: make([]domain.UnitTree, 0, len(units))}
		for _, u := range units {
			unitItems := byUnit[u.ID]
			if unitItems == nil {
				unitItems = []domain.Item{}
			}
			tree.Units = append(tree.Units, domain.UnitTree{Unit: u, Items: unitItems})
		}
		return nil
	})
	return tree, err
}

func (r *mongoProgramRepository) find(ctx context.Context, filter bson.M) ([]domain.Program, error) {
	// newest first
	cursor, err := r.programs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, classify(err)
	}
	defer cursor.Close(ctx)

	programs := []domain.Program{}
	if err := cursor.All(ctx, &programs); err != nil {
		return nil, classify(err)
	}
	return programs, nil
}

func (r *mongoProgramRepository) ListBySubject(ctx context.Context, subjectID primitive.ObjectID) ([]domain.Program, error) {
	return r.find(ctx, bson.M{"subjectId": subjectID})
}

func (r *mongoProgramRepository) ListByCoach(ctx context.Context, coachID primitive.ObjectID) ([]domain.Program, error) {
	return r.find(ctx, bson.M{"coachId": coachID})
}

func (r *mongoProgramRepository) ListAll(ctx context.Context) ([]domain.Program, error) {
	return r.find(ctx, bson.M{})
}

func (r *mongoProgramRepository) Update(ctx context.Context, program *domain.Program) error {
	if program.Name == "" {
		return fmt.Errorf("%w: program name is required", repository.ErrInvariantViolation)
	}
	// Owner, subject and kind are not changed by a plain update.
	update := bson.M{
		"$set": bson.M{
			"name":        program.Name,
			"description": program.Description,
			"startDate":   program.StartDate,
			"endDate":     program.EndDate,
			"updatedAt":   time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	err := r.programs.FindOneAndUpdate(ctx, bson.M{"_id": program.ID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(program)
	return classify(err)
}

func (r *mongoProgramRepository) Reassign(ctx context.Context, programID, subjectID primitive.ObjectID) (primitive.ObjectID, error) {
	var previous primitive.ObjectID
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		p, err := r.touchProgram(sc, programID, time.Now().UTC())
		if err != nil {
			return err
		}
		n, err := r.countCompletions(sc, bson.M{"programId": programID})
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: program has %d completions by its current subject", repository.ErrInvariantViolation, n)
		}
		if _, err := r.programs.UpdateOne(sc, bson.M{"_id": programID}, bson.M{"$set": bson.M{"subjectId": subjectID}}); err != nil {
			return classify(err)
		}
		previous = p.SubjectID
		return nil
	})
	return previous, err
}

// Delete is the only cascading delete: completions, items, units, then the program.
func (r *mongoProgramRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	return r.inTx(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.touchProgram(sc, id, time.Now().UTC()); err != nil {
			return err
		}
		filter := bson.M{"programId": id}
		for _, coll := range []*mongo.Collection{r.completions, r.items, r.units} {
			if _, err := coll.DeleteMany(sc, filter); err != nil {
				return classify(err)
			}
		}
		_, err := r.programs.DeleteOne(sc, bson.M{"_id": id})
		return classify(err)
	})
}

// EnsureProgramIndexes creates the ownership-scoped query indexes.
func EnsureProgramIndexes(ctx context.Context, collection *mongo.Collection) {
	createIndexes(ctx, collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "coachId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "subjectId", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
}
