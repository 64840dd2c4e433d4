package repository

import (
	"alcyxob/coachsync/internal/domain"
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for the repository layer. Implementations wrap these with
// detail; callers test with errors.Is.
var (
	ErrNotFound = RepositoryError("not found")
	// ErrConflict reports a failed compare-and-swap.
	ErrConflict = RepositoryError("conflict")
	// ErrInvariantViolation reports a write that would break a data model
	// invariant. Nothing was applied.
	ErrInvariantViolation = RepositoryError("invariant violation")
	// ErrTransient reports a timeout or unavailable store. Safe to retry.
	ErrTransient = RepositoryError("transient store failure")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// UserRepository reads actors provisioned by the identity provider.
type UserRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
}

// OwnershipReader resolves any program-owned entity to its program's
// (coach, subject) pair without loading the entity itself.
type OwnershipReader interface {
	ProgramOwnership(ctx context.Context, programID primitive.ObjectID) (domain.Ownership, error)
	UnitOwnership(ctx context.Context, unitID primitive.ObjectID) (domain.Ownership, error)
	ItemOwnership(ctx context.Context, itemID primitive.ObjectID) (domain.Ownership, error)
	CompletionOwnership(ctx context.Context, completionID primitive.ObjectID) (domain.Ownership, error)
}

// ProgramRepository persists programs. Every multi-document write is one
// transaction.
type ProgramRepository interface {
	// CreateWithUnits inserts the program and all nested units and items.
	// IDs, timestamps and missing sequences are assigned in place.
	CreateWithUnits(ctx context.Context, tree *domain.ProgramTree) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Program, error)
	GetTree(ctx context.Context, id primitive.ObjectID) (*domain.ProgramTree, error)
	ListBySubject(ctx context.Context, subjectID primitive.ObjectID) ([]domain.Program, error)
	ListByCoach(ctx context.Context, coachID primitive.ObjectID) ([]domain.Program, error)
	ListAll(ctx context.Context) ([]domain.Program, error)
	// Update writes name, description and dates.
	Update(ctx context.Context, program *domain.Program) error
	// Reassign moves the program to another subject and returns the previous
	// one. Fails with ErrInvariantViolation if completions exist.
	Reassign(ctx context.Context, programID, subjectID primitive.ObjectID) (primitive.ObjectID, error)
	// Delete removes the program with all units, items and completions.
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// UnitRepository persists units. Sequence 0 on append means "after the last".
type UnitRepository interface {
	// Append inserts the unit and its items in one transaction.
	Append(ctx context.Context, unit *domain.Unit, items []domain.Item) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Unit, error)
	ListByProgram(ctx context.Context, programID primitive.ObjectID) ([]domain.Unit, error)
	// Update writes name, notes and schedule. Sequence is changed by Reorder only.
	Update(ctx context.Context, unit *domain.Unit) error
	// Reorder assigns sequences 1..n following orderedIDs, which must list
	// every unit of the program exactly once.
	Reorder(ctx context.Context, programID primitive.ObjectID, orderedIDs []primitive.ObjectID) error
	// Delete fails with ErrInvariantViolation when completions reference the
	// unit, unless cascade is set.
	Delete(ctx context.Context, id primitive.ObjectID, cascade bool) error
}

// ItemRepository persists items and their embedded options.
type ItemRepository interface {
	Append(ctx context.Context, item *domain.Item) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Item, error)
	ListByUnit(ctx context.Context, unitID primitive.ObjectID) ([]domain.Item, error)
	// Update writes name, notes and the exercise target.
	Update(ctx context.Context, item *domain.Item) error
	Reorder(ctx context.Context, unitID primitive.ObjectID, orderedIDs []primitive.ObjectID) error
	Delete(ctx context.Context, id primitive.ObjectID, cascade bool) error
	AddOption(ctx context.Context, itemID primitive.ObjectID, option *domain.Option) error
	// RemoveOption refuses to empty the option set or to drop an option a
	// completion has chosen.
	RemoveOption(ctx context.Context, itemID, optionID primitive.ObjectID) error
}

// ApprovalTransition is a compare-and-swap on a completion's approval state.
type ApprovalTransition struct {
	From domain.ApprovalState
	To   domain.ApprovalState
	// ExpectedRevision, when set, must also match.
	ExpectedRevision *int64
	Decision         domain.ApprovalDecision
}

// CompletionRepository persists completions keyed by (item, occurrence, subject).
type CompletionRepository interface {
	// Upsert inserts c or updates the existing record with the same natural
	// key in place. It returns the previous record, or nil when c was created.
	// On update c receives the existing ID, CreatedAt and an incremented
	// Revision. Category completions get a pending approval that carries the
	// previous decision history forward.
	Upsert(ctx context.Context, c *domain.Completion) (*domain.Completion, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Completion, error)
	ListByProgram(ctx context.Context, programID primitive.ObjectID) ([]domain.Completion, error)
	ListByItem(ctx context.Context, itemID primitive.ObjectID) ([]domain.Completion, error)
	// TransitionApproval applies t only if the stored state still equals
	// t.From, else ErrConflict.
	TransitionApproval(ctx context.Context, id primitive.ObjectID, t ApprovalTransition) (*domain.Completion, error)
}
