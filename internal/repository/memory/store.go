// Package memory is an in-process implementation of the repository
// interfaces. A single lock serialises all writes, and every write validates
// fully before mutating, so each call is all-or-nothing.
package memory

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/repository"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type completionKey struct {
	item       primitive.ObjectID
	occurrence string
	subject    primitive.ObjectID
}

// Store holds every collection in maps keyed by ID.
type Store struct {
	mu          sync.RWMutex
	users       map[primitive.ObjectID]domain.User
	programs    map[primitive.ObjectID]domain.Program
	units       map[primitive.ObjectID]domain.Unit
	items       map[primitive.ObjectID]domain.Item
	completions map[primitive.ObjectID]domain.Completion
	byKey       map[completionKey]primitive.ObjectID

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:       make(map[primitive.ObjectID]domain.User),
		programs:    make(map[primitive.ObjectID]domain.Program),
		units:       make(map[primitive.ObjectID]domain.Unit),
		items:       make(map[primitive.ObjectID]domain.Item),
		completions: make(map[primitive.ObjectID]domain.Completion),
		byKey:       make(map[completionKey]primitive.ObjectID),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PutUser seeds an actor. Users are provisioned outside this service.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	s.users[u.ID] = u
}

func (s *Store) Users() repository.UserRepository             { return userRepo{s} }
func (s *Store) Programs() repository.ProgramRepository       { return programRepo{s} }
func (s *Store) Units() repository.UnitRepository             { return unitRepo{s} }
func (s *Store) Items() repository.ItemRepository             { return itemRepo{s} }
func (s *Store) Completions() repository.CompletionRepository { return completionRepo{s} }

type userRepo struct{ s *Store }

func (r userRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// --- ownership ---

func (s *Store) ProgramOwnership(_ context.Context, programID primitive.ObjectID) (domain.Ownership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownershipLocked(programID)
}

func (s *Store) UnitOwnership(_ context.Context, unitID primitive.ObjectID) (domain.Ownership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[unitID]
	if !ok {
		return domain.Ownership{}, repository.ErrNotFound
	}
	return s.ownershipLocked(u.ProgramID)
}

func (s *Store) ItemOwnership(_ context.Context, itemID primitive.ObjectID) (domain.Ownership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[itemID]
	if !ok {
		return domain.Ownership{}, repository.ErrNotFound
	}
	return s.ownershipLocked(it.ProgramID)
}

func (s *Store) CompletionOwnership(_ context.Context, completionID primitive.ObjectID) (domain.Ownership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.completions[completionID]
	if !ok {
		return domain.Ownership{}, repository.ErrNotFound
	}
	return s.ownershipLocked(c.ProgramID)
}

func (s *Store) ownershipLocked(programID primitive.ObjectID) (domain.Ownership, error) {
	p, ok := s.programs[programID]
	if !ok {
		return domain.Ownership{}, repository.ErrNotFound
	}
	return p.Ownership(), nil
}

// --- helpers shared by the per-collection repos ---

func (s *Store) touchLocked(programID primitive.ObjectID, now time.Time) error {
	p, ok := s.programs[programID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Version++
	p.UpdatedAt = now
	s.programs[programID] = p
	return nil
}

func (s *Store) unitsOfLocked(programID primitive.ObjectID) []domain.Unit {
	var out []domain.Unit
	for _, u := range s.units {
		if u.ProgramID == programID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (s *Store) itemsOfLocked(unitID primitive.ObjectID) []domain.Item {
	var out []domain.Item
	for _, it := range s.items {
		if it.UnitID == unitID {
			out = append(out, copyItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (s *Store) deleteCompletionsLocked(match func(domain.Completion) bool) {
	for id, c := range s.completions {
		if match(c) {
			delete(s.completions, id)
			delete(s.byKey, completionKey{c.ItemID, c.OccurrenceKey, c.SubjectID})
		}
	}
}

func (s *Store) countCompletionsLocked(match func(domain.Completion) bool) int {
	n := 0
	for _, c := range s.completions {
		if match(c) {
			n++
		}
	}
	return n
}

// planItemsLocked validates and fills a batch of new items for one unit.
func planItemsLocked(items []domain.Item, unit domain.Unit, existing []int, now time.Time) error {
	requested := make([]int, len(items))
	for i := range items {
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
		items[i].CreatedAt = now
		items[i].UpdatedAt = now
		assignOptionIDs(items[i].Options)
	}
	return nil
}

func assignOptionIDs(opts []domain.Option) {
	for i := range opts {
		if opts[i].ID.IsZero() {
			opts[i].ID = primitive.NewObjectID()
		}
	}
}

func copyItem(it domain.Item) domain.Item {
	if it.Exercise != nil {
		ex := *it.Exercise
		it.Exercise = &ex
	}
	if it.Options != nil {
		it.Options = append([]domain.Option(nil), it.Options...)
	}
	return it
}

func copyCompletion(c domain.Completion) domain.Completion {
	if c.Exercise != nil {
		ex := *c.Exercise
		c.Exercise = &ex
	}
	if c.Meal != nil {
		m := *c.Meal
		c.Meal = &m
	}
	if c.Approval != nil {
		a := *c.Approval
		a.Decisions = append([]domain.ApprovalDecision(nil), a.Decisions...)
		c.Approval = &a
	}
	return c
}

func sequencesOfUnits(units []domain.Unit) []int {
	out := make([]int, len(units))
	for i, u := range units {
		out[i] = u.Sequence
	}
	return out
}

func sequencesOfItems(items []domain.Item) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.Sequence
	}
	return out
}
