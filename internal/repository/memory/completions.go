package memory

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/repository"
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type completionRepo struct{ s *Store }

func (r completionRepo) Upsert(_ context.Context, c *domain.Completion) (*domain.Completion, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[c.ItemID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if c.OccurrenceKey == "" || c.SubjectID.IsZero() {
		return nil, fmt.Errorf("%w: completion requires occurrence and subject", repository.ErrInvariantViolation)
	}
	if p := s.programs[it.ProgramID]; p.SubjectID != c.SubjectID {
		return nil, fmt.Errorf("%w: completion actor is not the program's subject", repository.ErrInvariantViolation)
	}
	now := s.now()
	if err := s.touchLocked(it.ProgramID, now); err != nil {
		return nil, err
	}

	c.UnitID = it.UnitID
	c.ProgramID = it.ProgramID
	c.Kind = it.Kind
	c.UpdatedAt = now

	key := completionKey{c.ItemID, c.OccurrenceKey, c.SubjectID}
	var prev *domain.Completion
	if id, exists := s.byKey[key]; exists {
		old := copyCompletion(s.completions[id])
		prev = &old
		c.ID = old.ID
		c.CreatedAt = old.CreatedAt
		c.Revision = old.Revision + 1
	} else {
		c.ID = primitive.NewObjectID()
		c.CreatedAt = now
		c.Revision = 1
	}
	c.Approval = nil
	if c.Kind == domain.ItemKindCategory {
		var prevApproval *domain.Approval
		if prev != nil {
			prevApproval = prev.Approval
		}
		c.Approval = domain.NewPendingApproval(prevApproval, c.SubjectID, c.Revision, now)
	}

	s.completions[c.ID] = copyCompletion(*c)
	s.byKey[key] = c.ID
	return prev, nil
}

func (r completionRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Completion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.completions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c = copyCompletion(c)
	return &c, nil
}

func (r completionRepo) list(match func(domain.Completion) bool) []domain.Completion {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Completion{}
	for _, c := range r.s.completions {
		if match(c) {
			out = append(out, copyCompletion(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceKey != out[j].OccurrenceKey {
			return out[i].OccurrenceKey > out[j].OccurrenceKey
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out
}

func (r completionRepo) ListByProgram(_ context.Context, programID primitive.ObjectID) ([]domain.Completion, error) {
	return r.list(func(c domain.Completion) bool { return c.ProgramID == programID }), nil
}

func (r completionRepo) ListByItem(_ context.Context, itemID primitive.ObjectID) ([]domain.Completion, error) {
	return r.list(func(c domain.Completion) bool { return c.ItemID == itemID }), nil
}

func (r completionRepo) TransitionApproval(_ context.Context, id primitive.ObjectID, t repository.ApprovalTransition) (*domain.Completion, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.completions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if c.Approval == nil || c.Approval.State != t.From {
		return nil, repository.ErrConflict
	}
	if t.ExpectedRevision != nil && c.Revision != *t.ExpectedRevision {
		return nil, repository.ErrConflict
	}
	c = copyCompletion(c)
	d := t.Decision
	d.From, d.To, d.Revision = t.From, t.To, c.Revision
	if d.At.IsZero() {
		d.At = s.now()
	}
	c.Approval.State = t.To
	c.Approval.Decisions = append(c.Approval.Decisions, d)
	c.UpdatedAt = d.At
	s.completions[id] = c
	out := copyCompletion(c)
	return &out, nil
}
