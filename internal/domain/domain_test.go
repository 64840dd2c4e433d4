package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		action   DecisionAction
		from, to ApprovalState
	}{
		{DecisionApprove, ApprovalPending, ApprovalApproved},
		{DecisionReject, ApprovalPending, ApprovalRejected},
		{DecisionRevoke, ApprovalApproved, ApprovalRejected},
	}
	for _, tc := range cases {
		from, to, err := Transition(tc.action)
		require.NoError(t, err, tc.action)
		assert.Equal(t, tc.from, from, tc.action)
		assert.Equal(t, tc.to, to, tc.action)
	}

	_, _, err := Transition(DecisionSubmit)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestNewPendingApprovalKeepsHistory(t *testing.T) {
	subject := primitive.NewObjectID()
	coach := primitive.NewObjectID()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := NewPendingApproval(nil, subject, 1, now)
	require.Len(t, first.Decisions, 1)
	assert.Equal(t, ApprovalPending, first.State)
	assert.Equal(t, ApprovalState(""), first.Decisions[0].From)

	rejected := &Approval{
		State: ApprovalRejected,
		Decisions: append(first.Decisions, ApprovalDecision{
			Action: DecisionReject, From: ApprovalPending, To: ApprovalRejected, ActorID: coach, Revision: 1, At: now,
		}),
	}
	again := NewPendingApproval(rejected, subject, 2, now.Add(time.Hour))
	require.Len(t, again.Decisions, 3)
	assert.Equal(t, ApprovalPending, again.State)
	last := again.Decisions[2]
	assert.Equal(t, DecisionSubmit, last.Action)
	assert.Equal(t, ApprovalRejected, last.From)
	assert.Equal(t, int64(2), last.Revision)
	// the input history is not aliased
	assert.Len(t, rejected.Decisions, 2)
}

func TestEventRecipient(t *testing.T) {
	coach, subject := primitive.NewObjectID(), primitive.NewObjectID()
	base := Event{CoachID: coach, SubjectID: subject}

	for typ, want := range map[EventType]primitive.ObjectID{
		EventPlanUpdated:       subject,
		EventExerciseCompleted: coach,
		EventMealLogged:        coach,
		EventMealApproved:      subject,
		EventMealRejected:      subject,
	} {
		e := base
		e.Type = typ
		got, ok := e.Recipient()
		require.True(t, ok, typ)
		assert.Equal(t, want, got, typ)
	}

	_, ok := Event{Type: "UNKNOWN", CoachID: coach}.Recipient()
	assert.False(t, ok)
}

func TestItemWellFormed(t *testing.T) {
	ex := Item{Kind: ItemKindExercise, Exercise: &ExerciseTarget{Sets: 3, Reps: "10"}}
	assert.True(t, ex.WellFormed())

	cat := Item{Kind: ItemKindCategory}
	assert.False(t, cat.WellFormed())
	cat.Options = []Option{{ID: primitive.NewObjectID(), Name: "Rice"}}
	assert.True(t, cat.WellFormed())

	opt, ok := cat.Option(cat.Options[0].ID)
	require.True(t, ok)
	assert.Equal(t, "Rice", opt.Name)

	assert.Equal(t, ItemKindCategory, ProgramKindNutrition.ItemKind())
	assert.Equal(t, ItemKindExercise, ProgramKindExercise.ItemKind())
}
