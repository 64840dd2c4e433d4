package domain

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Completion is what a subject actually did against one item for one
// occurrence. (ItemID, OccurrenceKey, SubjectID) is its natural key.
type Completion struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ItemID        primitive.ObjectID `bson:"itemId" json:"itemId"`
	UnitID        primitive.ObjectID `bson:"unitId" json:"unitId"`
	ProgramID     primitive.ObjectID `bson:"programId" json:"programId"`
	SubjectID     primitive.ObjectID `bson:"subjectId" json:"subjectId"`
	OccurrenceKey string             `bson:"occurrenceKey" json:"occurrenceKey"`
	Kind          ItemKind           `bson:"kind" json:"kind"`

	Exercise *ExerciseResult `bson:"exercise,omitempty" json:"exercise,omitempty"`
	Meal     *MealResult     `bson:"meal,omitempty" json:"meal,omitempty"`

	// Approval is set for category (nutrition) completions only.
	Approval *Approval `bson:"approval,omitempty" json:"approval,omitempty"`

	// Revision counts writes by the subject. It starts at 1.
	Revision int64 `bson:"revision" json:"revision"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

type ExerciseResult struct {
	Sets       int     `bson:"sets" json:"sets" validate:"gte=0,lte=100"`
	Reps       int     `bson:"reps" json:"reps" validate:"gte=0,lte=1000"`
	Weight     float64 `bson:"weight,omitempty" json:"weight,omitempty" validate:"gte=0"`
	Difficulty int     `bson:"difficulty,omitempty" json:"difficulty,omitempty" validate:"gte=0,lte=10"`
	Notes      string  `bson:"notes,omitempty" json:"notes,omitempty" validate:"max=2000"`
}

type MealResult struct {
	OptionID primitive.ObjectID `bson:"optionId" json:"optionId"`
	// PhotoRef is the opaque media store reference, never the bytes.
	PhotoRef string `bson:"photoRef,omitempty" json:"photoRef,omitempty"`
	Notes    string `bson:"notes,omitempty" json:"notes,omitempty"`
}

// ApprovalState is the coach-controlled lifecycle of a nutrition completion.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// DecisionAction labels an entry in the approval history.
type DecisionAction string

const (
	DecisionSubmit  DecisionAction = "submit"
	DecisionApprove DecisionAction = "approve"
	DecisionReject  DecisionAction = "reject"
	DecisionRevoke  DecisionAction = "revoke"
)

// Approval is the current state plus the full decision history, so that
// reject, resubmit, approve stays auditable.
type Approval struct {
	State     ApprovalState      `bson:"state" json:"state"`
	Decisions []ApprovalDecision `bson:"decisions" json:"decisions"`
}

type ApprovalDecision struct {
	Action   DecisionAction     `bson:"action" json:"action"`
	From     ApprovalState      `bson:"from,omitempty" json:"from,omitempty"`
	To       ApprovalState      `bson:"to" json:"to"`
	ActorID  primitive.ObjectID `bson:"actorId" json:"actorId"`
	Reason   string             `bson:"reason,omitempty" json:"reason,omitempty"`
	Revision int64              `bson:"revision" json:"revision"`
	At       time.Time          `bson:"at" json:"at"`
}

// ErrIllegalTransition is returned when an action does not apply to the
// current approval state.
var ErrIllegalTransition = errors.New("illegal approval transition")

// coachTransitions lists the only edges a coach may take. Resubmission is
// not here: it is a subject write that re-initialises the state to pending.
var coachTransitions = map[DecisionAction]struct{ from, to ApprovalState }{
	DecisionApprove: {ApprovalPending, ApprovalApproved},
	DecisionReject:  {ApprovalPending, ApprovalRejected},
	DecisionRevoke:  {ApprovalApproved, ApprovalRejected},
}

// Transition returns the (from, to) edge for a coach action.
func Transition(action DecisionAction) (from, to ApprovalState, err error) {
	edge, ok := coachTransitions[action]
	if !ok {
		return "", "", ErrIllegalTransition
	}
	return edge.from, edge.to, nil
}

// NewPendingApproval starts or restarts the approval lifecycle for a subject
// write, carrying forward any earlier history.
func NewPendingApproval(prev *Approval, subjectID primitive.ObjectID, revision int64, at time.Time) *Approval {
	var history []ApprovalDecision
	var from ApprovalState
	if prev != nil {
		history = append(history, prev.Decisions...)
		from = prev.State
	}
	history = append(history, ApprovalDecision{
		Action:   DecisionSubmit,
		From:     from,
		To:       ApprovalPending,
		ActorID:  subjectID,
		Revision: revision,
		At:       at,
	})
	return &Approval{State: ApprovalPending, Decisions: history}
}

// PhotoRef returns the stored media reference, if any.
func (c *Completion) PhotoRef() string {
	if c.Meal == nil {
		return ""
	}
	return c.Meal.PhotoRef
}
