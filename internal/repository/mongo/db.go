package mongo

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/logging"
	"alcyxob/coachsync/internal/repository"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Default connection timeout
const defaultTimeout = 10 * time.Second

const transientTxnLabel = "TransientTransactionError"

const (
	userCollectionName       = "users"
	programCollectionName    = "programs"
	unitCollectionName       = "units"
	itemCollectionName       = "items"
	completionCollectionName = "completions"
)

// ConnectDB establishes a connection to MongoDB using the provided URI.
// Transactions need a replica set or sharded cluster.
func ConnectDB(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()

	if err = client.Ping(pingCtx, readpref.Primary()); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)
		return nil, err
	}
	return client, nil
}

// DisconnectDB gracefully disconnects the MongoDB client.
func DisconnectDB(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes of every collection. Call during startup.
func EnsureIndexes(ctx context.Context, db *mongo.Database) {
	EnsureUserIndexes(ctx, db.Collection(userCollectionName))
	EnsureProgramIndexes(ctx, db.Collection(programCollectionName))
	EnsureUnitIndexes(ctx, db.Collection(unitCollectionName))
	EnsureItemIndexes(ctx, db.Collection(itemCollectionName))
	EnsureCompletionIndexes(ctx, db.Collection(completionCollectionName))
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) {
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		logging.Warn().Err(err).Str("collection", collection.Name()).Msg("failed to create indexes")
	}
}

// collections is shared by every repository so that nested writes can touch
// the parent program inside one transaction.
type collections struct {
	db          *mongo.Database
	programs    *mongo.Collection
	units       *mongo.Collection
	items       *mongo.Collection
	completions *mongo.Collection
	txTimeout   time.Duration
}

func newCollections(db *mongo.Database, txTimeout time.Duration) collections {
	return collections{
		db:          db,
		programs:    db.Collection(programCollectionName),
		units:       db.Collection(unitCollectionName),
		items:       db.Collection(itemCollectionName),
		completions: db.Collection(completionCollectionName),
		txTimeout:   txTimeout,
	}
}

// inTx runs fn in a transaction bounded by txTimeout. fn may be invoked more
// than once when the driver retries a transient transaction error, so it must
// not keep state across attempts.
func (c collections) inTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	if c.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.txTimeout)
		defer cancel()
	}
	sess, err := c.db.Client().StartSession()
	if err != nil {
		return classify(err)
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return classify(err)
}

// touchProgram bumps the program version. Every nested write does this first,
// so two transactions mutating the same program write-conflict and serialise.
func (c collections) touchProgram(ctx context.Context, programID primitive.ObjectID, now time.Time) (*domain.Program, error) {
	var p domain.Program
	err := c.programs.FindOneAndUpdate(ctx,
		bson.M{"_id": programID},
		bson.M{"$inc": bson.M{"version": 1}, "$set": bson.M{"updatedAt": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

func (c collections) sequences(ctx context.Context, coll *mongo.Collection, filter bson.M) ([]int, error) {
	cursor, err := coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"sequence": 1}))
	if err != nil {
		return nil, classify(err)
	}
	var rows []struct {
		Sequence int `bson:"sequence"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, classify(err)
	}
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.Sequence
	}
	return out, nil
}

func (c collections) ids(ctx context.Context, coll *mongo.Collection, filter bson.M) ([]primitive.ObjectID, error) {
	cursor, err := coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, classify(err)
	}
	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, classify(err)
	}
	out := make([]primitive.ObjectID, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out, nil
}

// reorder rewrites the sequences of every doc matching parent to follow
// ordered. All siblings are first parked on negative keys so the unique
// (parent, sequence) index never sees a duplicate mid-way.
func (c collections) reorder(ctx context.Context, coll *mongo.Collection, parent bson.M, ordered []primitive.ObjectID, now time.Time) error {
	current, err := c.ids(ctx, coll, parent)
	if err != nil {
		return err
	}
	if err := repository.CheckPermutation(current, ordered); err != nil {
		return err
	}
	if _, err := coll.UpdateMany(ctx, parent, bson.M{"$mul": bson.M{"sequence": -1}}); err != nil {
		return classify(err)
	}
	for i, id := range ordered {
		_, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"sequence": i + 1, "updatedAt": now}})
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (c collections) countCompletions(ctx context.Context, filter bson.M) (int64, error) {
	n, err := c.completions.CountDocuments(ctx, filter)
	return n, classify(err)
}

// classify maps driver errors onto repository errors. Errors that already
// carry a repository error pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repository.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	var serverErr mongo.ServerError
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return repository.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	case errors.As(err, &serverErr) && serverErr.HasErrorLabel(transientTxnLabel):
		// WithTransaction already retried until its own deadline.
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	case mongo.IsDuplicateKeyError(err):
		// Unique indexes guard order keys and occurrence keys.
		return fmt.Errorf("%w: %w", repository.ErrInvariantViolation, err)
	}
	return err
}
