package service

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/events"
	"alcyxob/coachsync/internal/hub"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureConn struct {
	mu   sync.Mutex
	sent []hub.Envelope
}

func (c *captureConn) Send(_ time.Time, payload []byte) error {
	var env hub.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, env)
	c.mu.Unlock()
	return nil
}

func (c *captureConn) Ping(time.Time) error { return nil }
func (c *captureConn) Close() error         { return nil }

func (c *captureConn) envelopes() []hub.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hub.Envelope(nil), c.sent...)
}

// wireHub routes every published event straight into a hub.
func wireHub(t *testing.T, f *fixture) *hub.Hub {
	t.Helper()
	h := hub.New(hub.Config{}, nil)
	f.recorder.Next = events.PublisherFunc(func(_ context.Context, e domain.Event) error {
		h.Dispatch(e)
		return nil
	})
	t.Cleanup(func() { f.recorder.Next = nil })
	return h
}

func TestExerciseCompletionNotifiesCoachSessions(t *testing.T) {
	f := newFixture(t)
	h := wireHub(t, f)
	tree := f.exerciseProgram(t)
	squat := tree.Units[0].Items[0]

	coachConn, subjectConn := &captureConn{}, &captureConn{}
	h.Connect(f.coach, coachConn)
	h.Connect(f.subject, subjectConn)

	_, err := f.completions.LogCompletion(context.Background(), f.subject, squat.ID, "2026-03-01", squatResult(10))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(coachConn.envelopes()) == 1 }, time.Second, 5*time.Millisecond)
	env := coachConn.envelopes()[0]
	assert.Equal(t, domain.EventExerciseCompleted, env.Type)
	assert.Equal(t, tree.Program.ID.Hex(), env.Data.ProgramID)
	assert.Equal(t, squat.ID.Hex(), env.Data.ItemID)
	assert.Equal(t, "2026-03-01", env.Data.OccurrenceKey)

	// the subject's own write never echoes back to them
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, subjectConn.envelopes())
}

func TestMealApprovalNotifiesEverySubjectSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := wireHub(t, f)
	meal := f.nutritionProgram(t).Units[0].Items[0]

	c, err := f.completions.LogCompletion(ctx, f.subject, meal.ID, "2026-03-01", mealResult(meal))
	require.NoError(t, err)

	phone, laptop, coachConn := &captureConn{}, &captureConn{}, &captureConn{}
	h.Connect(f.subject, phone)
	h.Connect(f.subject, laptop)
	h.Connect(f.coach, coachConn)

	_, err = f.completions.Approve(ctx, f.coach, c.ID, DecisionInput{})
	require.NoError(t, err)

	for _, conn := range []*captureConn{phone, laptop} {
		require.Eventually(t, func() bool { return len(conn.envelopes()) == 1 }, time.Second, 5*time.Millisecond)
		env := conn.envelopes()[0]
		assert.Equal(t, domain.EventMealApproved, env.Type)
		assert.Equal(t, c.ID.Hex(), env.Data.CompletionID)
	}

	_, err = f.completions.Approve(ctx, f.coach, c.ID, DecisionInput{})
	assert.ErrorIs(t, err, ErrConflict)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, phone.envelopes(), 1)
	assert.Empty(t, coachConn.envelopes())
}
