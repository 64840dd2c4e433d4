package service

import (
	"alcyxob/coachsync/internal/access"
	"alcyxob/coachsync/internal/config"
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/events"
	"alcyxob/coachsync/internal/logging"
	"alcyxob/coachsync/internal/repository"
	"alcyxob/coachsync/internal/storage"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OccurrenceLayout formats the default occurrence key: the UTC calendar day.
const OccurrenceLayout = "2006-01-02"

// PhotoUpload is a presigned slot for a meal photo. Key is what the client
// sends back as MealPayload.PhotoRef.
type PhotoUpload struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CompletionService records what subjects did and runs the coach approval
// workflow for nutrition completions.
type CompletionService interface {
	// LogCompletion creates or replaces the caller's completion of itemID for
	// occurrenceKey. An empty key means today in UTC.
	LogCompletion(ctx context.Context, id domain.Identity, itemID primitive.ObjectID, occurrenceKey string, payload CompletionPayload) (*domain.Completion, error)
	GetCompletion(ctx context.Context, id domain.Identity, completionID primitive.ObjectID) (*domain.Completion, error)
	ListCompletions(ctx context.Context, id domain.Identity, programID primitive.ObjectID) ([]domain.Completion, error)
	ListItemCompletions(ctx context.Context, id domain.Identity, itemID primitive.ObjectID) ([]domain.Completion, error)

	Approve(ctx context.Context, id domain.Identity, completionID primitive.ObjectID, in DecisionInput) (*domain.Completion, error)
	Reject(ctx context.Context, id domain.Identity, completionID primitive.ObjectID, in DecisionInput) (*domain.Completion, error)
	// Revoke withdraws an approval. Subjects hear MEAL_REJECTED with the
	// revoked flag set.
	Revoke(ctx context.Context, id domain.Identity, completionID primitive.ObjectID, in DecisionInput) (*domain.Completion, error)

	RequestPhotoUpload(ctx context.Context, id domain.Identity, itemID primitive.ObjectID, contentType string) (*PhotoUpload, error)
	PhotoURL(ctx context.Context, id domain.Identity, completionID primitive.ObjectID) (string, error)
}

// completionService implements CompletionService.
type completionService struct {
	core
	files     storage.FileStorage
	urlExpiry time.Duration
}

func NewCompletionService(repos Repositories, authz Authorizer, publisher events.Publisher, files storage.FileStorage, urlExpiry time.Duration, retry config.RetryConfig) CompletionService {
	if files == nil {
		files = storage.Disabled{}
	}
	if urlExpiry <= 0 {
		urlExpiry = storage.DefaultPresignedURLExpiry
	}
	return &completionService{
		core:      newCore(repos, authz, publisher, retry),
		files:     files,
		urlExpiry: urlExpiry,
	}
}

func (s *completionService) LogCompletion(ctx context.Context, id domain.Identity, itemID primitive.ObjectID, occurrenceKey string, payload CompletionPayload) (*domain.Completion, error) {
	// 1. Validate shape
	if len(occurrenceKey) > 64 {
		return nil, fmt.Errorf("%w: occurrence key too long", ErrValidation)
	}
	if err := validateStruct(payload); err != nil {
		return nil, err
	}
	if occurrenceKey == "" {
		occurrenceKey = s.now().UTC().Format(OccurrenceLayout)
	}

	// 2. Only the program's subject may log
	d, err := s.require(ctx, id, access.ActionLog, access.Item(itemID))
	if err != nil {
		return nil, err
	}

	// 3. Match the payload to the item
	var item *domain.Item
	err = s.retry(ctx, "get_item", func() error {
		var err error
		item, err = s.repos.Items.GetByID(ctx, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	c := &domain.Completion{
		ItemID:        itemID,
		SubjectID:     id.ActorID,
		OccurrenceKey: occurrenceKey,
	}
	switch item.Kind {
	case domain.ItemKindExercise:
		if payload.Exercise == nil || payload.Meal != nil {
			return nil, fmt.Errorf("%w: exercise items take an exercise result", ErrValidation)
		}
		res := *payload.Exercise
		c.Exercise = &res
	case domain.ItemKindCategory:
		if payload.Meal == nil || payload.Exercise != nil {
			return nil, fmt.Errorf("%w: category items take a meal result", ErrValidation)
		}
		if _, ok := item.Option(payload.Meal.OptionID); !ok {
			return nil, fmt.Errorf("%w: option %s is not offered by item %s", ErrValidation, payload.Meal.OptionID.Hex(), itemID.Hex())
		}
		if ref := payload.Meal.PhotoRef; ref != "" && !storage.OwnsPhotoKey(ref, d.Ownership.ProgramID, id.ActorID) {
			return nil, fmt.Errorf("%w: photo reference was not issued for this program", ErrValidation)
		}
		c.Meal = &domain.MealResult{
			OptionID: payload.Meal.OptionID,
			PhotoRef: payload.Meal.PhotoRef,
			Notes:    payload.Meal.Notes,
		}
	default:
		return nil, fmt.Errorf("%w: item %s has unknown kind %q", ErrInvariantViolation, itemID.Hex(), item.Kind)
	}

	// 4. Upsert on the natural key
	var prev *domain.Completion
	err = s.retry(ctx, "log_completion", func() error {
		var err error
		prev, err = s.repos.Completions.Upsert(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	// 5. A replaced photo is no longer referenced
	if prev != nil {
		if old := prev.PhotoRef(); old != "" && old != c.PhotoRef() {
			if err := s.files.DeleteObject(ctx, old); err != nil && !errors.Is(err, storage.ErrStorageDisabled) {
				logging.Ctx(ctx).Warn().Err(err).Str("key", old).Msg("Failed to delete replaced meal photo")
			}
		}
	}

	// 6. Notify the coach
	typ := domain.EventExerciseCompleted
	if c.Kind == domain.ItemKindCategory {
		typ = domain.EventMealLogged
	}
	s.publish(ctx, completionEvent(typ, d.Ownership, c))

	logging.Ctx(ctx).Info().
		Str("completion_id", c.ID.Hex()).
		Str("item_id", itemID.Hex()).
		Str("occurrence", c.OccurrenceKey).
		Int64("revision", c.Revision).
		Msg("Completion logged")
	return c, nil
}

func (s *completionService) GetCompletion(ctx context.Context, id domain.Identity, completionID primitive.ObjectID) (*domain.Completion, error) {
	if _, err := s.require(ctx, id, access.ActionRead, access.Completion(completionID)); err != nil {
		return nil, err
	}
	var c *domain.Completion
	err := s.retry(ctx, "get_completion", func() error {
		var err error
		c, err = s.repos.Completions.GetByID(ctx, completionID)
		return err
	})
	return c, err
}

func (s *completionService) ListCompletions(ctx context.Context, id domain.Identity, programID primitive.ObjectID) ([]domain.Completion, error) {
	if _, err := s.require(ctx, id, access.ActionRead, access.Program(programID)); err != nil {
		return nil, err
	}
	var list []domain.Completion
	err := s.retry(ctx, "list_completions", func() error {
		var err error
		list, err = s.repos.Completions.ListByProgram(ctx, programID)
		return err
	})
	return list, err
}

func (s *completionService) ListItemCompletions(ctx context.Context, id domain.Identity, itemID primitive.ObjectID) ([]domain.Completion, error) {
	if _, err := s.require(ctx, id, access.ActionRead, access.Item(itemID)); err != nil {
		return nil, err
	}
	var list []domain.Completion
	err := s.retry(ctx, "list_item_completions", func() error {
		var err error
		list, err = s.repos.Completions.ListByItem(ctx, itemID)
		return err
	})
	return list, err
}

func (s *completionService) Approve(ctx context.Context, id domain.Identity, completionID primitive.ObjectID, in DecisionInput) (*domain.Completion, error) {
	return s.decide(ctx, id, completionID, domain.DecisionApprove, in)
}

func (s *completionService) Reject(ctx context.Context, id domain.Identity, completionID primitive.ObjectID, in DecisionInput) (*domain.Completion, error) {
	return s.decide(ctx, id, completionID, domain.DecisionReject, in)
}

func (s *completionService) Revoke(ctx context.Context, id domain.Identity, completionID primitive.ObjectID, in DecisionInput) (*domain.Completion, error) {
	return s.decide(ctx, id, completionID, domain.DecisionRevoke, in)
}

// decide applies one coach transition as a compare-and-swap. The swap is not
// retried: a transient failure may have committed, and a blind second attempt
// would then report a conflict for the caller's own decision.
func (s *completionService) decide(ctx context.Context, id domain.Identity, completionID primitive.ObjectID, action domain.DecisionAction, in DecisionInput) (*domain.Completion, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	d, err := s.require(ctx, id, access.ActionDecide, access.Completion(completionID))
	if err != nil {
		return nil, err
	}

	var current *domain.Completion
	err = s.retry(ctx, "get_completion", func() error {
		var err error
		current, err = s.repos.Completions.GetByID(ctx, completionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if current.Kind != domain.ItemKindCategory || current.Approval == nil {
		return nil, ErrNoApprovalPhase
	}

	from, to, err := domain.Transition(action)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	if current.Approval.State != from {
		return nil, fmt.Errorf("%w: completion is %s, %s needs %s", ErrConflict, current.Approval.State, action, from)
	}

	updated, err := s.repos.Completions.TransitionApproval(ctx, completionID, repository.ApprovalTransition{
		From:             from,
		To:               to,
		ExpectedRevision: in.ExpectedRevision,
		Decision: domain.ApprovalDecision{
			Action:  action,
			ActorID: id.ActorID,
			Reason:  in.Reason,
			At:      s.now(),
		},
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}

	typ := domain.EventMealApproved
	if to == domain.ApprovalRejected {
		typ = domain.EventMealRejected
	}
	e := completionEvent(typ, d.Ownership, updated)
	e.Revoked = action == domain.DecisionRevoke
	s.publish(ctx, e)

	logging.Ctx(ctx).Info().
		Str("completion_id", completionID.Hex()).
		Str("action", string(action)).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Approval decided")
	return updated, nil
}

// RequestPhotoUpload issues a presigned PUT for a meal photo on a category
// item the caller may log against.
func (s *completionService) RequestPhotoUpload(ctx context.Context, id domain.Identity, itemID primitive.ObjectID, contentType string) (*PhotoUpload, error) {
	d, err := s.require(ctx, id, access.ActionLog, access.Item(itemID))
	if err != nil {
		return nil, err
	}
	var item *domain.Item
	err = s.retry(ctx, "get_item", func() error {
		var err error
		item, err = s.repos.Items.GetByID(ctx, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if item.Kind != domain.ItemKindCategory {
		return nil, fmt.Errorf("%w: photos attach to category items only", ErrValidation)
	}

	key, err := storage.MealPhotoKey(d.Ownership.ProgramID, id.ActorID, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	url, err := s.files.GeneratePresignedUploadURL(ctx, key, contentType, s.urlExpiry)
	if err != nil {
		return nil, mediaErr(err)
	}
	return &PhotoUpload{Key: key, URL: url, ExpiresAt: s.now().Add(s.urlExpiry)}, nil
}

// PhotoURL returns a presigned GET for the completion's photo.
func (s *completionService) PhotoURL(ctx context.Context, id domain.Identity, completionID primitive.ObjectID) (string, error) {
	c, err := s.GetCompletion(ctx, id, completionID)
	if err != nil {
		return "", err
	}
	ref := c.PhotoRef()
	if ref == "" {
		return "", fmt.Errorf("%w: completion has no photo", ErrNotFound)
	}
	url, err := s.files.GeneratePresignedDownloadURL(ctx, ref, s.urlExpiry)
	if err != nil {
		return "", mediaErr(err)
	}
	return url, nil
}

func mediaErr(err error) error {
	return fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
}

func completionEvent(typ domain.EventType, o domain.Ownership, c *domain.Completion) domain.Event {
	completionID, itemID := c.ID, c.ItemID
	return domain.Event{
		Type:          typ,
		ProgramID:     o.ProgramID,
		CoachID:       o.CoachID,
		SubjectID:     o.SubjectID,
		CompletionID:  &completionID,
		ItemID:        &itemID,
		OccurrenceKey: c.OccurrenceKey,
		Revision:      c.Revision,
	}
}
