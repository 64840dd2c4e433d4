package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProgramKind selects the item shape a program holds.
type ProgramKind string

const (
	ProgramKindExercise  ProgramKind = "exercise"
	ProgramKindNutrition ProgramKind = "nutrition"
)

// ItemKind returns the only item kind a program of kind k may contain.
func (k ProgramKind) ItemKind() ItemKind {
	if k == ProgramKindNutrition {
		return ItemKindCategory
	}
	return ItemKindExercise
}

// Program is a dated container owned by one coach and assigned to one subject.
// Units, items and completions reference it by ID only.
type Program struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CoachID     primitive.ObjectID `bson:"coachId" json:"coachId"`
	SubjectID   primitive.ObjectID `bson:"subjectId" json:"subjectId"`
	Kind        ProgramKind        `bson:"kind" json:"kind"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	StartDate   *time.Time         `bson:"startDate,omitempty" json:"startDate,omitempty"`
	EndDate     *time.Time         `bson:"endDate,omitempty" json:"endDate,omitempty"`

	// Version is bumped by every nested mutation so that concurrent writers on
	// the same program conflict inside the store transaction.
	Version int64 `bson:"version" json:"version"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Ownership is the (program, coach, subject) triple every nested entity
// resolves to.
type Ownership struct {
	ProgramID primitive.ObjectID `bson:"_id" json:"programId"`
	CoachID   primitive.ObjectID `bson:"coachId" json:"coachId"`
	SubjectID primitive.ObjectID `bson:"subjectId" json:"subjectId"`
}

func (p *Program) Ownership() Ownership {
	return Ownership{ProgramID: p.ID, CoachID: p.CoachID, SubjectID: p.SubjectID}
}

// ProgramTree is a program with its units and items, ordered by sequence.
type ProgramTree struct {
	Program Program    `json:"program"`
	Units   []UnitTree `json:"units"`
}

type UnitTree struct {
	Unit  Unit   `json:"unit"`
	Items []Item `json:"items"`
}
