package memory

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/repository"
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type programRepo struct{ s *Store }

func (r programRepo) CreateWithUnits(_ context.Context, tree *domain.ProgramTree) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := &tree.Program
	if p.CoachID.IsZero() || p.SubjectID.IsZero() || p.Name == "" {
		return fmt.Errorf("%w: program requires coach, subject and name", repository.ErrInvariantViolation)
	}
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
	for i := range tree.Units {
		u := &tree.Units[i].Unit
		u.ID = primitive.NewObjectID()
		u.ProgramID = p.ID
		u.Sequence = seqs[i]
		u.CreatedAt, u.UpdatedAt = now, now
		if err := checkItemKinds(p.Kind, tree.Units[i].Items); err != nil {
			return err
		}
		if err := planItemsLocked(tree.Units[i].Items, *u, nil, now); err != nil {
			return err
		}
	}

	s.programs[p.ID] = *p
	for _, ut := range tree.Units {
		s.units[ut.Unit.ID] = ut.Unit
		for _, it := range ut.Items {
			s.items[it.ID] = copyItem(it)
		}
	}
	return nil
}

func checkItemKinds(kind domain.ProgramKind, items []domain.Item) error {
	for _, it := range items {
		if it.Kind != kind.ItemKind() {
			return fmt.Errorf("%w: %s program cannot hold %s items", repository.ErrInvariantViolation, kind, it.Kind)
		}
	}
	return nil
}

func (r programRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Program, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.programs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r programRepo) GetTree(_ context.Context, id primitive.ObjectID) (*domain.ProgramTree, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.programs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	tree := &domain.ProgramTree{Program: p, Units: []domain.UnitTree{}}
	for _, u := range s.unitsOfLocked(id) {
		items := s.itemsOfLocked(u.ID)
		if items == nil {
			items = []domain.Item{}
		}
		tree.Units = append(tree.Units, domain.UnitTree{Unit: u, Items: items})
	}
	return tree, nil
}

func (r programRepo) list(match func(domain.Program) bool) []domain.Program {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Program{}
	for _, p := range r.s.programs {
		if match(p) {
			out = append(out, p)
		}
	}
	// newest first
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r programRepo) ListBySubject(_ context.Context, subjectID primitive.ObjectID) ([]domain.Program, error) {
	return r.list(func(p domain.Program) bool { return p.SubjectID == subjectID }), nil
}

func (r programRepo) ListByCoach(_ context.Context, coachID primitive.ObjectID) ([]domain.Program, error) {
	return r.list(func(p domain.Program) bool { return p.CoachID == coachID }), nil
}

func (r programRepo) ListAll(_ context.Context) ([]domain.Program, error) {
	return r.list(func(domain.Program) bool { return true }), nil
}

func (r programRepo) Update(_ context.Context, program *domain.Program) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[program.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if program.Name == "" {
		return fmt.Errorf("%w: program name is required", repository.ErrInvariantViolation)
	}
	p.Name = program.Name
	p.Description = program.Description
	p.StartDate = program.StartDate
	p.EndDate = program.EndDate
	p.Version++
	p.UpdatedAt = s.now()
	s.programs[p.ID] = p
	*program = p
	return nil
}

func (r programRepo) Reassign(_ context.Context, programID, subjectID primitive.ObjectID) (primitive.ObjectID, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[programID]
	if !ok {
		return primitive.NilObjectID, repository.ErrNotFound
	}
	if n := s.countCompletionsLocked(func(c domain.Completion) bool { return c.ProgramID == programID }); n > 0 {
		return primitive.NilObjectID, fmt.Errorf("%w: program has %d completions by its current subject", repository.ErrInvariantViolation, n)
	}
	old := p.SubjectID
	p.SubjectID = subjectID
	p.Version++
	p.UpdatedAt = s.now()
	s.programs[programID] = p
	return old, nil
}

func (r programRepo) Delete(_ context.Context, id primitive.ObjectID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.programs[id]; !ok {
		return repository.ErrNotFound
	}
	s.deleteCompletionsLocked(func(c domain.Completion) bool { return c.ProgramID == id })
	for itemID, it := range s.items {
		if it.ProgramID == id {
			delete(s.items, itemID)
		}
	}
	for unitID, u := range s.units {
		if u.ProgramID == id {
			delete(s.units, unitID)
		}
	}
	delete(s.programs, id)
	return nil
}
