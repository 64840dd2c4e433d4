package service

import (
	"alcyxob/coachsync/internal/access"
	"alcyxob/coachsync/internal/config"
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/events"
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProgramFilter narrows ListPrograms for administrators and coaches.
type ProgramFilter struct {
	CoachID   *primitive.ObjectID
	SubjectID *primitive.ObjectID
}

// AuthoringService is the coach-facing program editor. Administrators may
// read and delete programs through it but never author.
type AuthoringService interface {
	CreateProgram(ctx context.Context, id domain.Identity, draft ProgramDraft) (*domain.ProgramTree, error)
	GetProgram(ctx context.Context, id domain.Identity, programID primitive.ObjectID) (*domain.ProgramTree, error)
	ListPrograms(ctx context.Context, id domain.Identity, filter ProgramFilter) ([]domain.Program, error)
	UpdateProgram(ctx context.Context, id domain.Identity, programID primitive.ObjectID, patch ProgramPatch) (*domain.Program, error)
	DeleteProgram(ctx context.Context, id domain.Identity, programID primitive.ObjectID) error
	ReassignProgram(ctx context.Context, id domain.Identity, programID, subjectID primitive.ObjectID) (*domain.Program, error)

	AddUnit(ctx context.Context, id domain.Identity, programID primitive.ObjectID, draft UnitDraft) (*domain.UnitTree, error)
	UpdateUnit(ctx context.Context, id domain.Identity, unitID primitive.ObjectID, patch UnitPatch) (*domain.Unit, error)
	ReorderUnits(ctx context.Context, id domain.Identity, programID primitive.ObjectID, orderedIDs []primitive.ObjectID) error
	DeleteUnit(ctx context.Context, id domain.Identity, unitID primitive.ObjectID, cascade bool) error

	AddItem(ctx context.Context, id domain.Identity, unitID primitive.ObjectID, draft ItemDraft) (*domain.Item, error)
	UpdateItem(ctx context.Context, id domain.Identity, itemID primitive.ObjectID, patch ItemPatch) (*domain.Item, error)
	ReorderItems(ctx context.Context, id domain.Identity, unitID primitive.ObjectID, orderedIDs []primitive.ObjectID) error
	DeleteItem(ctx context.Context, id domain.Identity, itemID primitive.ObjectID, cascade bool) error
	AddOption(ctx context.Context, id domain.Identity, itemID primitive.ObjectID, draft OptionDraft) (*domain.Option, error)
	RemoveOption(ctx context.Context, id domain.Identity, itemID, optionID primitive.ObjectID) error
}

// authoringService implements AuthoringService.
type authoringService struct {
	core
}

func NewAuthoringService(repos Repositories, authz Authorizer, publisher events.Publisher, retry config.RetryConfig) AuthoringService {
	return &authoringService{core: newCore(repos, authz, publisher, retry)}
}

// === Programs ===

// CreateProgram creates a program with nested units and items for a
// subject assigned to the calling coach.
func (s *authoringService) CreateProgram(ctx context.Context, id domain.Identity, draft ProgramDraft) (*domain.ProgramTree, error) {
	// 1. Validate input
	if draft.SubjectID.IsZero() {
		return nil, fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if err := validateStruct(draft); err != nil {
		return nil, err
	}
	if err := checkDates(draft.StartDate, draft.EndDate); err != nil {
		return nil, err
	}

	// 2. The coach must be the subject's assigned coach
	if _, err := s.require(ctx, id, access.ActionAuthor, access.Subject(draft.SubjectID)); err != nil {
		return nil, err
	}

	// 3. One transaction for the whole tree
	itemKind := draft.Kind.ItemKind()
	for _, u := range draft.Units {
		if err := u.checkShape(itemKind); err != nil {
			return nil, err
		}
	}
	build := func() *domain.ProgramTree {
		tree := &domain.ProgramTree{Program: domain.Program{
			CoachID:     id.ActorID,
			SubjectID:   draft.SubjectID,
			Kind:        draft.Kind,
			Name:        draft.Name,
			Description: draft.Description,
			StartDate:   draft.StartDate,
			EndDate:     draft.EndDate,
		}}
		for _, u := range draft.Units {
			tree.Units = append(tree.Units, u.tree(itemKind))
		}
		return tree
	}
	var tree *domain.ProgramTree
	err := s.retry(ctx, "create_program", func() error {
		tree = build()
		return s.repos.Programs.CreateWithUnits(ctx, tree)
	})
	if err != nil {
		return nil, err
	}

	// 4. Notify after commit
	s.publish(ctx, planEvent(tree.Program.Ownership(), domain.PlanProgramCreated))
	return tree, nil
}

func (s *authoringService) GetProgram(ctx context.Context, id domain.Identity, programID primitive.ObjectID) (*domain.ProgramTree, error) {
	if _, err := s.require(ctx, id, access.ActionRead, access.Program(programID)); err != nil {
		return nil, err
	}
	var tree *domain.ProgramTree
	err := s.retry(ctx, "get_program", func() error {
		var err error
		tree, err = s.repos.Programs.GetTree(ctx, programID)
		return err
	})
	return tree, err
}

// ListPrograms is scoped by role: coaches see what they own, subjects what
// is assigned to them, administrators everything.
func (s *authoringService) ListPrograms(ctx context.Context, id domain.Identity, filter ProgramFilter) ([]domain.Program, error) {
	var (
		list  func() ([]domain.Program, error)
		match = func(domain.Program) bool { return true }
	)
	switch id.Role {
	case domain.RoleCoach:
		list = func() ([]domain.Program, error) { return s.repos.Programs.ListByCoach(ctx, id.ActorID) }
		if filter.SubjectID != nil {
			subjectID := *filter.SubjectID
			match = func(p domain.Program) bool { return p.SubjectID == subjectID }
		}
	case domain.RoleSubject:
		list = func() ([]domain.Program, error) { return s.repos.Programs.ListBySubject(ctx, id.ActorID) }
	case domain.RoleAdministrator:
		switch {
		case filter.SubjectID != nil:
			list = func() ([]domain.Program, error) { return s.repos.Programs.ListBySubject(ctx, *filter.SubjectID) }
		case filter.CoachID != nil:
			list = func() ([]domain.Program, error) { return s.repos.Programs.ListByCoach(ctx, *filter.CoachID) }
		default:
			list = func() ([]domain.Program, error) { return s.repos.Programs.ListAll(ctx) }
		}
	default:
		return nil, ErrForbidden
	}

	var programs []domain.Program
	err := s.retry(ctx, "list_programs", func() error {
		var err error
		programs, err = list()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := programs[:0]
	for _, p := range programs {
		if match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *authoringService) UpdateProgram(ctx context.Context, id domain.Identity, programID primitive.ObjectID, patch ProgramPatch) (*domain.Program, error) {
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	if _, err := s.require(ctx, id, access.ActionAuthor, access.Program(programID)); err != nil {
		return nil, err
	}

	var program *domain.Program
	err := s.retry(ctx, "update_program", func() error {
		current, err := s.repos.Programs.GetByID(ctx, programID)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			current.Name = *patch.Name
		}
		if patch.Description != nil {
			current.Description = *patch.Description
		}
		if patch.StartDate != nil {
			current.StartDate = patch.StartDate
		}
		if patch.EndDate != nil {
			current.EndDate = patch.EndDate
		}
		if err := checkDates(current.StartDate, current.EndDate); err != nil {
			return err
		}
		if err := s.repos.Programs.Update(ctx, current); err != nil {
			return err
		}
		program = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, planEvent(program.Ownership(), domain.PlanProgramUpdated))
	return program, nil
}

// DeleteProgram cascades to every unit, item and completion of the program.
func (s *authoringService) DeleteProgram(ctx context.Context, id domain.Identity, programID primitive.ObjectID) error {
	d, err := s.require(ctx, id, access.ActionDelete, access.Program(programID))
	if err != nil {
		return err
	}
	err = s.retry(ctx, "delete_program", func() error {
		return s.repos.Programs.Delete(ctx, programID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanProgramDeleted))
	return nil
}

// ReassignProgram moves a program to another subject of the same coach. The
// old subject hears program_unassigned, the new one program_reassigned.
func (s *authoringService) ReassignProgram(ctx context.Context, id domain.Identity, programID, subjectID primitive.ObjectID) (*domain.Program, error) {
	if subjectID.IsZero() {
		return nil, fmt.Errorf("%w: subject is required", ErrValidation)
	}
	d, err := s.require(ctx, id, access.ActionAuthor, access.Program(programID))
	if err != nil {
		return nil, err
	}
	if _, err := s.require(ctx, id, access.ActionAuthor, access.Subject(subjectID)); err != nil {
		return nil, err
	}

	if d.Ownership.SubjectID == subjectID {
		var p *domain.Program
		err := s.retry(ctx, "get_program", func() error {
			var err error
			p, err = s.repos.Programs.GetByID(ctx, programID)
			return err
		})
		return p, err
	}

	var previous primitive.ObjectID
	err = s.retry(ctx, "reassign_program", func() error {
		var err error
		previous, err = s.repos.Programs.Reassign(ctx, programID, subjectID)
		return err
	})
	if err != nil {
		return nil, err
	}

	old := d.Ownership
	old.SubjectID = previous
	s.publish(ctx, planEvent(old, domain.PlanProgramUnassigned))
	moved := d.Ownership
	moved.SubjectID = subjectID
	s.publish(ctx, planEvent(moved, domain.PlanProgramReassigned))

	var p *domain.Program
	err = s.retry(ctx, "get_program", func() error {
		var err error
		p, err = s.repos.Programs.GetByID(ctx, programID)
		return err
	})
	return p, err
}

// === Units ===

func (s *authoringService) AddUnit(ctx context.Context, id domain.Identity, programID primitive.ObjectID, draft UnitDraft) (*domain.UnitTree, error) {
	if err := validateStruct(draft); err != nil {
		return nil, err
	}
	d, err := s.require(ctx, id, access.ActionAuthor, access.Program(programID))
	if err != nil {
		return nil, err
	}

	var ut domain.UnitTree
	err = s.retry(ctx, "add_unit", func() error {
		program, err := s.repos.Programs.GetByID(ctx, programID)
		if err != nil {
			return err
		}
		if err := draft.checkShape(program.Kind.ItemKind()); err != nil {
			return err
		}
		ut = draft.tree(program.Kind.ItemKind())
		ut.Unit.ProgramID = programID
		return s.repos.Units.Append(ctx, &ut.Unit, ut.Items)
	})
	if err != nil {
		return nil, err
	}
	if ut.Items == nil {
		ut.Items = []domain.Item{}
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanUnitAdded))
	return &ut, nil
}

func (s *authoringService) UpdateUnit(ctx context.Context, id domain.Identity, unitID primitive.ObjectID, patch UnitPatch) (*domain.Unit, error) {
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	d, err := s.require(ctx, id, access.ActionAuthor, access.Unit(unitID))
	if err != nil {
		return nil, err
	}

	var unit *domain.Unit
	err = s.retry(ctx, "update_unit", func() error {
		current, err := s.repos.Units.GetByID(ctx, unitID)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			current.Name = *patch.Name
		}
		if patch.Notes != nil {
			current.Notes = *patch.Notes
		}
		if patch.ScheduledFor != nil {
			current.ScheduledFor = patch.ScheduledFor
		}
		if err := s.repos.Units.Update(ctx, current); err != nil {
			return err
		}
		unit = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanUnitUpdated))
	return unit, nil
}

// ReorderUnits takes every unit ID of the program in the new order.
func (s *authoringService) ReorderUnits(ctx context.Context, id domain.Identity, programID primitive.ObjectID, orderedIDs []primitive.ObjectID) error {
	d, err := s.require(ctx, id, access.ActionAuthor, access.Program(programID))
	if err != nil {
		return err
	}
	err = s.retry(ctx, "reorder_units", func() error {
		return s.repos.Units.Reorder(ctx, programID, orderedIDs)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanUnitsReordered))
	return nil
}

// DeleteUnit refuses while completions reference the unit unless cascade is set.
func (s *authoringService) DeleteUnit(ctx context.Context, id domain.Identity, unitID primitive.ObjectID, cascade bool) error {
	d, err := s.require(ctx, id, access.ActionDelete, access.Unit(unitID))
	if err != nil {
		return err
	}
	err = s.retry(ctx, "delete_unit", func() error {
		return s.repos.Units.Delete(ctx, unitID, cascade)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanUnitDeleted))
	return nil
}

// === Items ===

func (s *authoringService) AddItem(ctx context.Context, id domain.Identity, unitID primitive.ObjectID, draft ItemDraft) (*domain.Item, error) {
	if err := validateStruct(draft); err != nil {
		return nil, err
	}
	d, err := s.require(ctx, id, access.ActionAuthor, access.Unit(unitID))
	if err != nil {
		return nil, err
	}

	var item domain.Item
	err = s.retry(ctx, "add_item", func() error {
		program, err := s.repos.Programs.GetByID(ctx, d.Ownership.ProgramID)
		if err != nil {
			return err
		}
		if err := draft.checkShape(program.Kind.ItemKind()); err != nil {
			return err
		}
		item = draft.item(program.Kind.ItemKind())
		item.UnitID = unitID
		return s.repos.Items.Append(ctx, &item)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanItemAdded))
	return &item, nil
}

func (s *authoringService) UpdateItem(ctx context.Context, id domain.Identity, itemID primitive.ObjectID, patch ItemPatch) (*domain.Item, error) {
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	d, err := s.require(ctx, id, access.ActionAuthor, access.Item(itemID))
	if err != nil {
		return nil, err
	}

	var item *domain.Item
	err = s.retry(ctx, "update_item", func() error {
		current, err := s.repos.Items.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if err := patch.checkShape(current.Kind); err != nil {
			return err
		}
		if patch.Name != nil {
			current.Name = *patch.Name
		}
		if patch.Notes != nil {
			current.Notes = *patch.Notes
		}
		if patch.Exercise != nil {
			current.Exercise = patch.Exercise
		}
		if err := s.repos.Items.Update(ctx, current); err != nil {
			return err
		}
		item = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanItemUpdated))
	return item, nil
}

func (s *authoringService) ReorderItems(ctx context.Context, id domain.Identity, unitID primitive.ObjectID, orderedIDs []primitive.ObjectID) error {
	d, err := s.require(ctx, id, access.ActionAuthor, access.Unit(unitID))
	if err != nil {
		return err
	}
	err = s.retry(ctx, "reorder_items", func() error {
		return s.repos.Items.Reorder(ctx, unitID, orderedIDs)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanItemsReordered))
	return nil
}

func (s *authoringService) DeleteItem(ctx context.Context, id domain.Identity, itemID primitive.ObjectID, cascade bool) error {
	d, err := s.require(ctx, id, access.ActionDelete, access.Item(itemID))
	if err != nil {
		return err
	}
	err = s.retry(ctx, "delete_item", func() error {
		return s.repos.Items.Delete(ctx, itemID, cascade)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanItemDeleted))
	return nil
}

func (s *authoringService) AddOption(ctx context.Context, id domain.Identity, itemID primitive.ObjectID, draft OptionDraft) (*domain.Option, error) {
	if err := validateStruct(draft); err != nil {
		return nil, err
	}
	d, err := s.require(ctx, id, access.ActionAuthor, access.Item(itemID))
	if err != nil {
		return nil, err
	}

	var option domain.Option
	err = s.retry(ctx, "add_option", func() error {
		option = draft.option()
		return s.repos.Items.AddOption(ctx, itemID, &option)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanOptionAdded))
	return &option, nil
}

// RemoveOption refuses to drop the last option or one a completion chose.
func (s *authoringService) RemoveOption(ctx context.Context, id domain.Identity, itemID, optionID primitive.ObjectID) error {
	d, err := s.require(ctx, id, access.ActionAuthor, access.Item(itemID))
	if err != nil {
		return err
	}
	err = s.retry(ctx, "remove_option", func() error {
		return s.repos.Items.RemoveOption(ctx, itemID, optionID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, planEvent(d.Ownership, domain.PlanOptionRemoved))
	return nil
}
