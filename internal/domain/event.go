package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EventType names a domain event. The values double as the notification
// envelope type.
type EventType string

const (
	EventPlanUpdated       EventType = "PLAN_UPDATED"
	EventExerciseCompleted EventType = "EXERCISE_COMPLETED"
	EventMealLogged        EventType = "MEAL_LOGGED"
	EventMealApproved      EventType = "MEAL_APPROVED"
	EventMealRejected      EventType = "MEAL_REJECTED"
)

// PlanChange is the kind carried by a PLAN_UPDATED event.
type PlanChange string

const (
	PlanProgramCreated    PlanChange = "program_created"
	PlanProgramUpdated    PlanChange = "program_updated"
	PlanProgramDeleted    PlanChange = "program_deleted"
	PlanProgramReassigned PlanChange = "program_reassigned"
	PlanProgramUnassigned PlanChange = "program_unassigned"
	PlanUnitAdded         PlanChange = "unit_added"
	PlanUnitUpdated       PlanChange = "unit_updated"
	PlanUnitDeleted       PlanChange = "unit_deleted"
	PlanUnitsReordered    PlanChange = "units_reordered"
	PlanItemAdded         PlanChange = "item_added"
	PlanItemUpdated       PlanChange = "item_updated"
	PlanItemDeleted       PlanChange = "item_deleted"
	PlanItemsReordered    PlanChange = "items_reordered"
	PlanOptionAdded       PlanChange = "option_added"
	PlanOptionRemoved     PlanChange = "option_removed"
)

// Event is an immutable value published after a store write commits.
type Event struct {
	ID         string             `json:"id"`
	Type       EventType          `json:"type"`
	ProgramID  primitive.ObjectID `json:"programId"`
	SubjectID  primitive.ObjectID `json:"subjectId"`
	CoachID    primitive.ObjectID `json:"coachId"`
	OccurredAt time.Time          `json:"occurredAt"`

	// PLAN_UPDATED only.
	Change PlanChange `json:"change,omitempty"`

	// Completion events only.
	CompletionID  *primitive.ObjectID `json:"completionId,omitempty"`
	ItemID        *primitive.ObjectID `json:"itemId,omitempty"`
	OccurrenceKey string              `json:"occurrenceKey,omitempty"`
	Revision      int64               `json:"revision,omitempty"`
	Revoked       bool                `json:"revoked,omitempty"`
}

// Party is one side of the coach/subject relationship.
type Party int

const (
	PartyNone Party = iota
	PartyCoach
	PartySubject
)

// Audience returns which side of the relationship should hear about an
// event. Authoring and approval notify the subject; subject writes notify
// the coach.
func (t EventType) Audience() Party {
	switch t {
	case EventPlanUpdated, EventMealApproved, EventMealRejected:
		return PartySubject
	case EventExerciseCompleted, EventMealLogged:
		return PartyCoach
	}
	return PartyNone
}

// Recipient returns the actor ID that should receive e.
func (e Event) Recipient() (primitive.ObjectID, bool) {
	switch e.Type.Audience() {
	case PartySubject:
		return e.SubjectID, !e.SubjectID.IsZero()
	case PartyCoach:
		return e.CoachID, !e.CoachID.IsZero()
	}
	return primitive.NilObjectID, false
}
