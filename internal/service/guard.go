package service

import (
	"alcyxob/coachsync/internal/access"
	"alcyxob/coachsync/internal/config"
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/events"
	"alcyxob/coachsync/internal/logging"
	"alcyxob/coachsync/internal/metrics"
	"alcyxob/coachsync/internal/repository"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Authorizer is the access control dependency. *access.Authorizer satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, id domain.Identity, action access.Action, res access.Resource) (access.Decision, error)
}

// Repositories bundles the store interfaces the services use.
type Repositories struct {
	Users       repository.UserRepository
	Programs    repository.ProgramRepository
	Units       repository.UnitRepository
	Items       repository.ItemRepository
	Completions repository.CompletionRepository
}

// core is shared by both services: authorization, bounded retry of
// transient failures and post-commit publishing.
type core struct {
	repos       Repositories
	authz       Authorizer
	publisher   events.Publisher
	maxAttempts int
	initial     time.Duration
	now         func() time.Time
}

func newCore(repos Repositories, authz Authorizer, publisher events.Publisher, retry config.RetryConfig) core {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 50 * time.Millisecond
	}
	return core{
		repos:       repos,
		authz:       authz,
		publisher:   publisher,
		maxAttempts: retry.MaxAttempts,
		initial:     retry.InitialInterval,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// require authorizes or fails with ErrForbidden. Unresolvable references
// are reported as ErrForbidden too so existence does not leak.
func (c *core) require(ctx context.Context, id domain.Identity, action access.Action, res access.Resource) (access.Decision, error) {
	var d access.Decision
	err := c.retry(ctx, "authorize", func() error {
		var err error
		d, err = c.authz.Authorize(ctx, id, action, res)
		return err
	})
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		logging.Ctx(ctx).Debug().
			Str("actor_id", id.ActorID.Hex()).
			Str("action", string(action)).
			Str("resource", string(res.Kind)).
			Str("resource_id", res.ID.Hex()).
			Str("reason", string(d.Reason)).
			Msg("Access denied")
		return d, fmt.Errorf("%w: %s on %s", ErrForbidden, action, res.Kind)
	}
	return d, nil
}

// retry runs fn, retrying only transient store failures with exponential
// backoff. Every other error is returned on the first attempt. The result is
// translated into the service taxonomy.
func (c *core) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !errors.Is(err, repository.ErrTransient) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("op", op).Dur("wait", wait).Msg("Transient store failure, retrying")
	})
	if errors.Is(err, repository.ErrTransient) {
		logging.Ctx(ctx).Warn().Err(err).Str("op", op).Msg("Transient store failure, giving up")
	}
	return mapRepoErr(err)
}

// publish hands e to the event bus. The write has already committed, so a
// failure here is logged and never returned.
func (c *core) publish(ctx context.Context, e domain.Event) {
	if c.publisher == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = c.now()
	}
	if err := c.publisher.Publish(ctx, e); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_type", string(e.Type)).Str("program_id", e.ProgramID.Hex()).Msg("Failed to publish event")
	}
}

func planEvent(o domain.Ownership, change domain.PlanChange) domain.Event {
	return domain.Event{
		Type:      domain.EventPlanUpdated,
		ProgramID: o.ProgramID,
		CoachID:   o.CoachID,
		SubjectID: o.SubjectID,
		Change:    change,
	}
}
