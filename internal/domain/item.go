package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ItemKind string

const (
	// ItemKindExercise carries set/rep/rest targets.
	ItemKindExercise ItemKind = "exercise"
	// ItemKindCategory is a nutrition slot holding interchangeable options.
	ItemKindCategory ItemKind = "category"
)

// Item is an ordered child of a unit. Exactly one of Exercise or Options is
// populated, matching Kind.
type Item struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UnitID    primitive.ObjectID `bson:"unitId" json:"unitId"`
	ProgramID primitive.ObjectID `bson:"programId" json:"programId"`
	Kind      ItemKind           `bson:"kind" json:"kind"`
	Name      string             `bson:"name" json:"name"`
	Notes     string             `bson:"notes,omitempty" json:"notes,omitempty"`
	Sequence  int                `bson:"sequence" json:"sequence"`

	Exercise *ExerciseTarget `bson:"exercise,omitempty" json:"exercise,omitempty"`
	Options  []Option        `bson:"options,omitempty" json:"options,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// ExerciseTarget is the prescription for an exercise item.
type ExerciseTarget struct {
	Sets        int    `bson:"sets" json:"sets" validate:"gte=0,lte=100"`
	Reps        string `bson:"reps,omitempty" json:"reps,omitempty" validate:"max=32"` // "10", "8-12", "AMRAP"
	RestSeconds int    `bson:"restSeconds,omitempty" json:"restSeconds,omitempty" validate:"gte=0"`
	Weight      string `bson:"weight,omitempty" json:"weight,omitempty" validate:"max=32"`
	Tempo       string `bson:"tempo,omitempty" json:"tempo,omitempty" validate:"max=32"`
}

// Option is one concrete food choice within a category item.
type Option struct {
	ID         primitive.ObjectID `bson:"_id" json:"id"`
	Name       string             `bson:"name" json:"name"`
	Quantity   float64            `bson:"quantity" json:"quantity"`
	Unit       string             `bson:"unit,omitempty" json:"unit,omitempty"`
	Calories   float64            `bson:"calories,omitempty" json:"calories,omitempty"`
	Protein    float64            `bson:"protein,omitempty" json:"protein,omitempty"`
	Carbs      float64            `bson:"carbs,omitempty" json:"carbs,omitempty"`
	Fat        float64            `bson:"fat,omitempty" json:"fat,omitempty"`
	IsOptional bool               `bson:"isOptional" json:"isOptional"`
}

// Option returns the option with the given ID.
func (i *Item) Option(id primitive.ObjectID) (*Option, bool) {
	for idx := range i.Options {
		if i.Options[idx].ID == id {
			return &i.Options[idx], true
		}
	}
	return nil, false
}

// WellFormed reports whether the item's payload matches its kind. A category
// must hold at least one option.
func (i *Item) WellFormed() bool {
	switch i.Kind {
	case ItemKindExercise:
		return i.Exercise != nil && len(i.Options) == 0
	case ItemKindCategory:
		return i.Exercise == nil && len(i.Options) > 0
	}
	return false
}
