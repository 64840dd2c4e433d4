package memory

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/repository"
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type unitRepo struct{ s *Store }

func (r unitRepo) Append(_ context.Context, unit *domain.Unit, items []domain.Item) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.programs[unit.ProgramID]
	if !ok {
		return repository.ErrNotFound
	}
	if unit.Name == "" {
		return fmt.Errorf("%w: unit name is required", repository.ErrInvariantViolation)
	}
	seqs, err := repository.PlanSequences(sequencesOfUnits(s.unitsOfLocked(p.ID)), []int{unit.Sequence})
	if err != nil {
		return err
	}
	if err := checkItemKinds(p.Kind, items); err != nil {
		return err
	}

	now := s.now()
	candidate := *unit
	candidate.ID = primitive.NewObjectID()
	candidate.Sequence = seqs[0]
	candidate.CreatedAt, candidate.UpdatedAt = now, now
	if err := planItemsLocked(items, candidate, nil, now); err != nil {
		return err
	}

	if err := s.touchLocked(p.ID, now); err != nil {
		return err
	}
	s.units[candidate.ID] = candidate
	for _, it := range items {
		s.items[it.ID] = copyItem(it)
	}
	*unit = candidate
	return nil
}

func (r unitRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Unit, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.units[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r unitRepo) ListByProgram(_ context.Context, programID primitive.ObjectID) ([]domain.Unit, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	units := r.s.unitsOfLocked(programID)
	if units == nil {
		units = []domain.Unit{}
	}
	return units, nil
}

func (r unitRepo) Update(_ context.Context, unit *domain.Unit) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[unit.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if unit.Name == "" {
		return fmt.Errorf("%w: unit name is required", repository.ErrInvariantViolation)
	}
	now := s.now()
	if err := s.touchLocked(u.ProgramID, now); err != nil {
		return err
	}
	u.Name = unit.Name
	u.Notes = unit.Notes
	u.ScheduledFor = unit.ScheduledFor
	u.UpdatedAt = now
	s.units[u.ID] = u
	*unit = u
	return nil
}

func (r unitRepo) Reorder(_ context.Context, programID primitive.ObjectID, orderedIDs []primitive.ObjectID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.programs[programID]; !ok {
		return repository.ErrNotFound
	}
	current := s.unitsOfLocked(programID)
	ids := make([]primitive.ObjectID, len(current))
	for i, u := range current {
		ids[i] = u.ID
	}
	if err := repository.CheckPermutation(ids, orderedIDs); err != nil {
		return err
	}
	now := s.now()
	if err := s.touchLocked(programID, now); err != nil {
		return err
	}
	for i, id := range orderedIDs {
		u := s.units[id]
		u.Sequence = i + 1
		u.UpdatedAt = now
		s.units[id] = u
	}
	return nil
}

func (r unitRepo) Delete(_ context.Context, id primitive.ObjectID, cascade bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return repository.ErrNotFound
	}
	refs := func(c domain.Completion) bool { return c.UnitID == id }
	if n := s.countCompletionsLocked(refs); n > 0 && !cascade {
		return fmt.Errorf("%w: %d completions reference unit", repository.ErrInvariantViolation, n)
	}
	if err := s.touchLocked(u.ProgramID, s.now()); err != nil {
		return err
	}
	s.deleteCompletionsLocked(refs)
	for itemID, it := range s.items {
		if it.UnitID == id {
			delete(s.items, itemID)
		}
	}
	delete(s.units, id)
	return nil
}
