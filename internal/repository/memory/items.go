package memory

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/repository"
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type itemRepo struct{ s *Store }

func (r itemRepo) Append(_ context.Context, item *domain.Item) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[item.UnitID]
	if !ok {
		return repository.ErrNotFound
	}
	p := s.programs[u.ProgramID]
	if err := checkItemKinds(p.Kind, []domain.Item{*item}); err != nil {
		return err
	}
	batch := []domain.Item{copyItem(*item)}
	now := s.now()
	if err := planItemsLocked(batch, u, sequencesOfItems(s.itemsOfLocked(u.ID)), now); err != nil {
		return err
	}
	if err := s.touchLocked(u.ProgramID, now); err != nil {
		return err
	}
	s.items[batch[0].ID] = copyItem(batch[0])
	*item = batch[0]
	return nil
}

func (r itemRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Item, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	it, ok := r.s.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	it = copyItem(it)
	return &it, nil
}

func (r itemRepo) ListByUnit(_ context.Context, unitID primitive.ObjectID) ([]domain.Item, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	items := r.s.itemsOfLocked(unitID)
	if items == nil {
		items = []domain.Item{}
	}
	return items, nil
}

func (r itemRepo) Update(_ context.Context, item *domain.Item) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[item.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if item.Name == "" {
		return fmt.Errorf("%w: item name is required", repository.ErrInvariantViolation)
	}
	if it.Kind == domain.ItemKindExercise && item.Exercise == nil {
		return fmt.Errorf("%w: exercise item requires a target", repository.ErrInvariantViolation)
	}
	if it.Kind == domain.ItemKindCategory && item.Exercise != nil {
		return fmt.Errorf("%w: category item cannot carry an exercise target", repository.ErrInvariantViolation)
	}
	now := s.now()
	if err := s.touchLocked(it.ProgramID, now); err != nil {
		return err
	}
	it.Name = item.Name
	it.Notes = item.Notes
	if item.Exercise != nil {
		ex := *item.Exercise
		it.Exercise = &ex
	}
	it.UpdatedAt = now
	s.items[it.ID] = it
	*item = copyItem(it)
	return nil
}

func (r itemRepo) Reorder(_ context.Context, unitID primitive.ObjectID, orderedIDs []primitive.ObjectID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[unitID]
	if !ok {
		return repository.ErrNotFound
	}
	current := s.itemsOfLocked(unitID)
	ids := make([]primitive.ObjectID, len(current))
	for i, it := range current {
		ids[i] = it.ID
	}
	if err := repository.CheckPermutation(ids, orderedIDs); err != nil {
		return err
	}
	now := s.now()
	if err := s.touchLocked(u.ProgramID, now); err != nil {
		return err
	}
	for i, id := range orderedIDs {
		it := s.items[id]
		it.Sequence = i + 1
		it.UpdatedAt = now
		s.items[id] = it
	}
	return nil
}

func (r itemRepo) Delete(_ context.Context, id primitive.ObjectID, cascade bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	refs := func(c domain.Completion) bool { return c.ItemID == id }
	if n := s.countCompletionsLocked(refs); n > 0 && !cascade {
		return fmt.Errorf("%w: %d completions reference item", repository.ErrInvariantViolation, n)
	}
	if err := s.touchLocked(it.ProgramID, s.now()); err != nil {
		return err
	}
	s.deleteCompletionsLocked(refs)
	delete(s.items, id)
	return nil
}

func (r itemRepo) AddOption(_ context.Context, itemID primitive.ObjectID, option *domain.Option) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return repository.ErrNotFound
	}
	if it.Kind != domain.ItemKindCategory {
		return fmt.Errorf("%w: options belong to category items only", repository.ErrInvariantViolation)
	}
	if option.Name == "" {
		return fmt.Errorf("%w: option name is required", repository.ErrInvariantViolation)
	}
	now := s.now()
	if err := s.touchLocked(it.ProgramID, now); err != nil {
		return err
	}
	option.ID = primitive.NewObjectID()
	it = copyItem(it)
	it.Options = append(it.Options, *option)
	it.UpdatedAt = now
	s.items[itemID] = it
	return nil
}

func (r itemRepo) RemoveOption(_ context.Context, itemID, optionID primitive.ObjectID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return repository.ErrNotFound
	}
	if _, found := it.Option(optionID); !found {
		return repository.ErrNotFound
	}
	if len(it.Options) == 1 {
		return fmt.Errorf("%w: category must keep at least one option", repository.ErrInvariantViolation)
	}
	chosen := func(c domain.Completion) bool {
		return c.ItemID == itemID && c.Meal != nil && c.Meal.OptionID == optionID
	}
	if n := s.countCompletionsLocked(chosen); n > 0 {
		return fmt.Errorf("%w: %d completions chose this option", repository.ErrInvariantViolation, n)
	}
	now := s.now()
	if err := s.touchLocked(it.ProgramID, now); err != nil {
		return err
	}
	kept := make([]domain.Option, 0, len(it.Options)-1)
	for _, o := range it.Options {
		if o.ID != optionID {
			kept = append(kept, o)
		}
	}
	it.Options = kept
	it.UpdatedAt = now
	s.items[itemID] = it
	return nil
}
