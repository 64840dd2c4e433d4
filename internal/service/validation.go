package service

import (
	"alcyxob/coachsync/internal/domain"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ProgramDraft is the input to CreateProgram.
type ProgramDraft struct {
	SubjectID   primitive.ObjectID
	Kind        domain.ProgramKind `validate:"required,oneof=exercise nutrition"`
	Name        string             `validate:"required,max=200"`
	Description string             `validate:"max=2000"`
	StartDate   *time.Time
	EndDate     *time.Time
	Units       []UnitDraft `validate:"dive"`
}

// UnitDraft is a new unit with optional nested items. Sequence 0 appends.
type UnitDraft struct {
	Name         string `validate:"required,max=200"`
	Notes        string `validate:"max=2000"`
	ScheduledFor *time.Time
	Sequence     int         `validate:"gte=0"`
	Items        []ItemDraft `validate:"dive"`
}

// ItemDraft is a new item. Its kind follows the program: exercise programs
// take Exercise, nutrition programs take Options.
type ItemDraft struct {
	Name     string                 `validate:"required,max=200"`
	Notes    string                 `validate:"max=2000"`
	Sequence int                    `validate:"gte=0"`
	Exercise *domain.ExerciseTarget `validate:"omitempty"`
	Options  []OptionDraft          `validate:"dive"`
}

type OptionDraft struct {
	Name       string  `validate:"required,max=200"`
	Quantity   float64 `validate:"gte=0"`
	Unit       string  `validate:"max=32"`
	Calories   float64 `validate:"gte=0"`
	Protein    float64 `validate:"gte=0"`
	Carbs      float64 `validate:"gte=0"`
	Fat        float64 `validate:"gte=0"`
	IsOptional bool
}

// ProgramPatch updates the fields that are set.
type ProgramPatch struct {
	Name        *string `validate:"omitempty,min=1,max=200"`
	Description *string `validate:"omitempty,max=2000"`
	StartDate   *time.Time
	EndDate     *time.Time
}

type UnitPatch struct {
	Name         *string `validate:"omitempty,min=1,max=200"`
	Notes        *string `validate:"omitempty,max=2000"`
	ScheduledFor *time.Time
}

type ItemPatch struct {
	Name     *string                `validate:"omitempty,min=1,max=200"`
	Notes    *string                `validate:"omitempty,max=2000"`
	Exercise *domain.ExerciseTarget `validate:"omitempty"`
}

// CompletionPayload is what the subject reports. Exactly one field is set,
// matching the item's kind.
type CompletionPayload struct {
	Exercise *domain.ExerciseResult `validate:"omitempty"`
	Meal     *MealPayload           `validate:"omitempty"`
}

type MealPayload struct {
	OptionID primitive.ObjectID
	PhotoRef string `validate:"max=512"`
	Notes    string `validate:"max=2000"`
}

// DecisionInput qualifies an approval decision.
type DecisionInput struct {
	// ExpectedRevision, when set, makes the decision fail with ErrConflict
	// if the subject has resubmitted since the coach last read it.
	ExpectedRevision *int64
	Reason           string `validate:"max=2000"`
}

// validateStruct runs the validator and flattens field errors into one
// ErrValidation.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func checkDates(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("%w: end date precedes start date", ErrValidation)
	}
	return nil
}

func (d OptionDraft) option() domain.Option {
	return domain.Option{
		Name:       d.Name,
		Quantity:   d.Quantity,
		Unit:       d.Unit,
		Calories:   d.Calories,
		Protein:    d.Protein,
		Carbs:      d.Carbs,
		Fat:        d.Fat,
		IsOptional: d.IsOptional,
	}
}

// checkShape rejects a draft whose fields do not fit items of kind.
func (d ItemDraft) checkShape(kind domain.ItemKind) error {
	switch kind {
	case domain.ItemKindExercise:
		if d.Exercise == nil {
			return fmt.Errorf("%w: exercise item %q requires a target", ErrValidation, d.Name)
		}
		if len(d.Options) > 0 {
			return fmt.Errorf("%w: exercise item %q cannot carry options", ErrValidation, d.Name)
		}
	case domain.ItemKindCategory:
		if d.Exercise != nil {
			return fmt.Errorf("%w: category item %q cannot carry an exercise target", ErrValidation, d.Name)
		}
	}
	return nil
}

func (d UnitDraft) checkShape(kind domain.ItemKind) error {
	for _, it := range d.Items {
		if err := it.checkShape(kind); err != nil {
			return err
		}
	}
	return nil
}

func (p ItemPatch) checkShape(kind domain.ItemKind) error {
	if p.Exercise != nil && kind != domain.ItemKindExercise {
		return fmt.Errorf("%w: %s items take no exercise target", ErrValidation, kind)
	}
	return nil
}

func (d ItemDraft) item(kind domain.ItemKind) domain.Item {
	it := domain.Item{
		Kind:     kind,
		Name:     d.Name,
		Notes:    d.Notes,
		Sequence: d.Sequence,
		Exercise: d.Exercise,
	}
	for _, o := range d.Options {
		it.Options = append(it.Options, o.option())
	}
	return it
}

func (d UnitDraft) tree(kind domain.ItemKind) domain.UnitTree {
	ut := domain.UnitTree{Unit: domain.Unit{
		Name:         d.Name,
		Notes:        d.Notes,
		ScheduledFor: d.ScheduledFor,
		Sequence:     d.Sequence,
	}}
	for _, it := range d.Items {
		ut.Items = append(ut.Items, it.item(kind))
	}
	return ut
}
