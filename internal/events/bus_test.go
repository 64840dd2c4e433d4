package events

import (
	"alcyxob/coachsync/internal/domain"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(16, nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.Event, 8)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = bus.Consume(ctx, func(e domain.Event) { got <- e })
	}()
	<-ready

	programID := primitive.NewObjectID()
	// The subscription is registered asynchronously; retry the first publish
	// until it is observed.
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, domain.Event{Type: domain.EventPlanUpdated, ProgramID: programID, Change: domain.PlanProgramCreated})
		select {
		case <-got:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	for _, change := range []domain.PlanChange{domain.PlanUnitAdded, domain.PlanItemAdded, domain.PlanItemsReordered} {
		require.NoError(t, bus.Publish(ctx, domain.Event{Type: domain.EventPlanUpdated, ProgramID: programID, Change: change}))
	}
	for _, want := range []domain.PlanChange{domain.PlanUnitAdded, domain.PlanItemAdded, domain.PlanItemsReordered} {
		select {
		case e := <-got:
			assert.Equal(t, want, e.Change)
			assert.Equal(t, programID, e.ProgramID)
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.OccurredAt.IsZero())
		case <-time.After(time.Second):
			t.Fatalf("missing %s", want)
		}
	}
}

func TestRecorderForwards(t *testing.T) {
	var forwarded []domain.Event
	r := &Recorder{Next: PublisherFunc(func(_ context.Context, e domain.Event) error {
		forwarded = append(forwarded, e)
		return nil
	})}
	require.NoError(t, r.Publish(context.Background(), domain.Event{Type: domain.EventMealLogged}))
	require.NoError(t, r.Publish(context.Background(), domain.Event{Type: domain.EventPlanUpdated}))

	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(domain.EventMealLogged), 1)
	assert.Len(t, forwarded, 2)

	r.Reset()
	assert.Empty(t, r.Events())
}
