package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Unit is one scheduled occasion of a program: a workout day or a meal slot.
// Sequence is unique within the program.
type Unit struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ProgramID    primitive.ObjectID `bson:"programId" json:"programId"`
	Name         string             `bson:"name" json:"name"`
	Notes        string             `bson:"notes,omitempty" json:"notes,omitempty"`
	ScheduledFor *time.Time         `bson:"scheduledFor,omitempty" json:"scheduledFor,omitempty"`
	Sequence     int                `bson:"sequence" json:"sequence"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
}
