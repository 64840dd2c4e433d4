package service

import (
	"alcyxob/coachsync/internal/access"
	"alcyxob/coachsync/internal/config"
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/events"
	"alcyxob/coachsync/internal/repository"
	"alcyxob/coachsync/internal/repository/memory"
	"alcyxob/coachsync/internal/storage"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- Fakes ---

type fakeFiles struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeFiles) GeneratePresignedUploadURL(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://media.test/put/" + key, nil
}

func (f *fakeFiles) GeneratePresignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://media.test/get/" + key, nil
}

func (f *fakeFiles) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

// flakyCompletions fails the first n upserts with a transient error.
type flakyCompletions struct {
	repository.CompletionRepository
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyCompletions) Upsert(ctx context.Context, c *domain.Completion) (*domain.Completion, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, repository.ErrTransient
	}
	return f.CompletionRepository.Upsert(ctx, c)
}

// --- Fixture ---

type fixture struct {
	store       *memory.Store
	recorder    *events.Recorder
	files       *fakeFiles
	repos       Repositories
	authoring   AuthoringService
	completions CompletionService

	coach, otherCoach, subject, otherSubject, admin domain.Identity
}

var testRetry = config.RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		store:        store,
		recorder:     &events.Recorder{},
		files:        &fakeFiles{},
		coach:        domain.Identity{ActorID: primitive.NewObjectID(), Role: domain.RoleCoach},
		otherCoach:   domain.Identity{ActorID: primitive.NewObjectID(), Role: domain.RoleCoach},
		subject:      domain.Identity{ActorID: primitive.NewObjectID(), Role: domain.RoleSubject},
		otherSubject: domain.Identity{ActorID: primitive.NewObjectID(), Role: domain.RoleSubject},
		admin:        domain.Identity{ActorID: primitive.NewObjectID(), Role: domain.RoleAdministrator},
	}
	coachID := f.coach.ActorID
	store.PutUser(domain.User{ID: f.coach.ActorID, Name: "Coach", Role: domain.RoleCoach})
	store.PutUser(domain.User{ID: f.otherCoach.ActorID, Name: "Other Coach", Role: domain.RoleCoach})
	store.PutUser(domain.User{ID: f.subject.ActorID, Name: "Subject", Role: domain.RoleSubject, CoachID: &coachID})
	store.PutUser(domain.User{ID: f.otherSubject.ActorID, Name: "Second Subject", Role: domain.RoleSubject, CoachID: &coachID})
	store.PutUser(domain.User{ID: f.admin.ActorID, Name: "Admin", Role: domain.RoleAdministrator})

	f.repos = Repositories{
		Users:       store.Users(),
		Programs:    store.Programs(),
		Units:       store.Units(),
		Items:       store.Items(),
		Completions: store.Completions(),
	}
	f.build(t)
	return f
}

// build (re)creates the services over f.repos.
func (f *fixture) build(t *testing.T) {
	t.Helper()
	authz, err := access.NewAuthorizer(f.store, f.store.Users())
	require.NoError(t, err)
	f.authoring = NewAuthoringService(f.repos, authz, f.recorder, testRetry)
	f.completions = NewCompletionService(f.repos, authz, f.recorder, f.files, time.Minute, testRetry)
}

func (f *fixture) exerciseProgram(t *testing.T) *domain.ProgramTree {
	t.Helper()
	tree, err := f.authoring.CreateProgram(context.Background(), f.coach, ProgramDraft{
		SubjectID: f.subject.ActorID,
		Kind:      domain.ProgramKindExercise,
		Name:      "Strength",
		Units: []UnitDraft{
			{Name: "Day 1", Items: []ItemDraft{
				{Name: "Squat", Exercise: &domain.ExerciseTarget{Sets: 3, Reps: "10"}},
				{Name: "Bench", Exercise: &domain.ExerciseTarget{Sets: 3, Reps: "8"}},
			}},
			{Name: "Day 2", Items: []ItemDraft{
				{Name: "Deadlift", Exercise: &domain.ExerciseTarget{Sets: 1, Reps: "5"}},
			}},
		},
	})
	require.NoError(t, err)
	return tree
}

func (f *fixture) nutritionProgram(t *testing.T) *domain.ProgramTree {
	t.Helper()
	tree, err := f.authoring.CreateProgram(context.Background(), f.coach, ProgramDraft{
		SubjectID: f.subject.ActorID,
		Kind:      domain.ProgramKindNutrition,
		Name:      "Cut",
		Units: []UnitDraft{
			{Name: "Breakfast", Items: []ItemDraft{
				{Name: "Carbs", Options: []OptionDraft{{Name: "Oats", Quantity: 80, Unit: "g"}, {Name: "Rice", Quantity: 100, Unit: "g"}}},
			}},
		},
	})
	require.NoError(t, err)
	return tree
}

func squatResult(reps int) CompletionPayload {
	return CompletionPayload{Exercise: &domain.ExerciseResult{Sets: 3, Reps: reps}}
}

func mealResult(item domain.Item) CompletionPayload {
	return CompletionPayload{Meal: &MealPayload{OptionID: item.Options[0].ID}}
}

// --- Authoring ---

func TestCreateProgramIsVisibleToItsParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.exerciseProgram(t)

	require.Len(t, tree.Units, 2)
	assert.Equal(t, 1, tree.Units[0].Unit.Sequence)
	assert.Equal(t, 2, tree.Units[1].Unit.Sequence)
	assert.Equal(t, domain.ItemKindExercise, tree.Units[0].Items[0].Kind)

	got, err := f.authoring.GetProgram(ctx, f.subject, tree.Program.ID)
	require.NoError(t, err)
	assert.Equal(t, "Strength", got.Program.Name)
	assert.Len(t, got.Units[0].Items, 2)

	_, err = f.authoring.GetProgram(ctx, f.otherCoach, tree.Program.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.authoring.GetProgram(ctx, f.otherSubject, tree.Program.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	plan := f.recorder.OfType(domain.EventPlanUpdated)
	require.Len(t, plan, 1)
	assert.Equal(t, domain.PlanProgramCreated, plan[0].Change)
	assert.Equal(t, f.subject.ActorID, plan[0].SubjectID)
}

func TestCreateProgramForUnassignedSubjectIsForbidden(t *testing.T) {
	f := newFixture(t)
	_, err := f.authoring.CreateProgram(context.Background(), f.otherCoach, ProgramDraft{
		SubjectID: f.subject.ActorID,
		Kind:      domain.ProgramKindExercise,
		Name:      "Sneaky",
	})
	assert.ErrorIs(t, err, ErrForbidden)

	all, err := f.authoring.ListPrograms(context.Background(), f.admin, ProgramFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.recorder.Events())
}

func TestCreateProgramValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)

	cases := map[string]ProgramDraft{
		"missing name": {SubjectID: f.subject.ActorID, Kind: domain.ProgramKindExercise},
		"unknown kind": {SubjectID: f.subject.ActorID, Kind: "yoga", Name: "x"},
		"no subject":   {Kind: domain.ProgramKindExercise, Name: "x"},
		"dates":        {SubjectID: f.subject.ActorID, Kind: domain.ProgramKindExercise, Name: "x", StartDate: &start, EndDate: &end},
		"unit name":    {SubjectID: f.subject.ActorID, Kind: domain.ProgramKindExercise, Name: "x", Units: []UnitDraft{{}}},
	}
	for name, draft := range cases {
		_, err := f.authoring.CreateProgram(ctx, f.coach, draft)
		assert.ErrorIs(t, err, ErrValidation, name)
	}

	// item shapes must follow the program kind
	shapes := map[string]ProgramDraft{
		"category item in exercise program": {
			SubjectID: f.subject.ActorID, Kind: domain.ProgramKindExercise, Name: "x",
			Units: []UnitDraft{{Name: "Day", Items: []ItemDraft{{Name: "Carbs", Options: []OptionDraft{{Name: "Rice"}}}}}},
		},
		"exercise target in nutrition program": {
			SubjectID: f.subject.ActorID, Kind: domain.ProgramKindNutrition, Name: "x",
			Units: []UnitDraft{{Name: "Lunch", Items: []ItemDraft{{Name: "Squat", Exercise: &domain.ExerciseTarget{Sets: 3, Reps: "5"}}}}},
		},
	}
	for name, draft := range shapes {
		_, err := f.authoring.CreateProgram(ctx, f.coach, draft)
		assert.ErrorIs(t, err, ErrValidation, name)
	}
	assert.Empty(t, f.recorder.Events())
}

func TestItemShapeMismatchIsValidationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meals := f.nutritionProgram(t)
	category := meals.Units[0].Items[0]
	training := f.exerciseProgram(t)

	_, err := f.authoring.UpdateItem(ctx, f.coach, category.ID, ItemPatch{Exercise: &domain.ExerciseTarget{Sets: 3, Reps: "10"}})
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrInvariantViolation)

	_, err = f.authoring.AddItem(ctx, f.coach, meals.Units[0].Unit.ID, ItemDraft{Name: "Squat", Exercise: &domain.ExerciseTarget{Sets: 3, Reps: "5"}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.authoring.AddItem(ctx, f.coach, training.Units[0].Unit.ID, ItemDraft{Name: "Plank"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.authoring.AddUnit(ctx, f.coach, training.Program.ID, UnitDraft{Name: "Day 3", Items: []ItemDraft{{Name: "Rice", Options: []OptionDraft{{Name: "White"}}}}})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.authoring.GetProgram(ctx, f.coach, meals.Program.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Units[0].Items[0].Exercise)
}

func TestListProgramsIsRoleScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.exerciseProgram(t)
	_, err := f.authoring.CreateProgram(ctx, f.coach, ProgramDraft{SubjectID: f.otherSubject.ActorID, Kind: domain.ProgramKindExercise, Name: "Other"})
	require.NoError(t, err)

	mine, err := f.authoring.ListPrograms(ctx, f.coach, ProgramFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	subjectID := f.subject.ActorID
	filtered, err := f.authoring.ListPrograms(ctx, f.coach, ProgramFilter{SubjectID: &subjectID})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Strength", filtered[0].Name)

	assigned, err := f.authoring.ListPrograms(ctx, f.subject, ProgramFilter{})
	require.NoError(t, err)
	assert.Len(t, assigned, 1)

	none, err := f.authoring.ListPrograms(ctx, f.otherCoach, ProgramFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := f.authoring.ListPrograms(ctx, f.admin, ProgramFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNestedEditsPublishPlanUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.exerciseProgram(t)
	f.recorder.Reset()

	unit, err := f.authoring.AddUnit(ctx, f.coach, tree.Program.ID, UnitDraft{Name: "Day 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, unit.Unit.Sequence)

	item, err := f.authoring.AddItem(ctx, f.coach, unit.Unit.ID, ItemDraft{Name: "Row", Exercise: &domain.ExerciseTarget{Sets: 4, Reps: "12"}})
	require.NoError(t, err)
	assert.Equal(t, tree.Program.ID, item.ProgramID)

	name := "Barbell Row"
	updated, err := f.authoring.UpdateItem(ctx, f.coach, item.ID, ItemPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)

	require.NoError(t, f.authoring.ReorderUnits(ctx, f.coach, tree.Program.ID, []primitive.ObjectID{
		unit.Unit.ID, tree.Units[0].Unit.ID, tree.Units[1].Unit.ID,
	}))
	got, err := f.authoring.GetProgram(ctx, f.coach, tree.Program.ID)
	require.NoError(t, err)
	assert.Equal(t, "Day 3", got.Units[0].Unit.Name)

	var changes []domain.PlanChange
	for _, e := range f.recorder.Events() {
		assert.Equal(t, domain.EventPlanUpdated, e.Type)
		assert.Equal(t, f.subject.ActorID, e.SubjectID)
		changes = append(changes, e.Change)
	}
	assert.Equal(t, []domain.PlanChange{
		domain.PlanUnitAdded, domain.PlanItemAdded, domain.PlanItemUpdated, domain.PlanUnitsReordered,
	}, changes)

	// the subject reads but never authors
	_, err = f.authoring.AddUnit(ctx, f.subject, tree.Program.ID, UnitDraft{Name: "Mine"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestOptionsOnCategoryItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.nutritionProgram(t)
	item := tree.Units[0].Items[0]

	opt, err := f.authoring.AddOption(ctx, f.coach, item.ID, OptionDraft{Name: "Toast", Quantity: 2, Unit: "slice"})
	require.NoError(t, err)
	assert.False(t, opt.ID.IsZero())

	// a completion that chose Oats pins it
	_, err = f.completions.LogCompletion(ctx, f.subject, item.ID, "2026-03-01", mealResult(item))
	require.NoError(t, err)
	err = f.authoring.RemoveOption(ctx, f.coach, item.ID, item.Options[0].ID)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	require.NoError(t, f.authoring.RemoveOption(ctx, f.coach, item.ID, opt.ID))
	require.NoError(t, f.authoring.RemoveOption(ctx, f.coach, item.ID, item.Options[1].ID))

	// Oats is now the only option and still chosen
	err = f.authoring.RemoveOption(ctx, f.coach, item.ID, item.Options[0].ID)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestDeleteUnitSoftBlocksOnCompletions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.exerciseProgram(t)
	day1 := tree.Units[0]

	_, err := f.completions.LogCompletion(ctx, f.subject, day1.Items[0].ID, "2026-03-01", squatResult(10))
	require.NoError(t, err)

	err = f.authoring.DeleteUnit(ctx, f.coach, day1.Unit.ID, false)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	require.NoError(t, f.authoring.DeleteUnit(ctx, f.coach, day1.Unit.ID, true))
	list, err := f.completions.ListCompletions(ctx, f.coach, tree.Program.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	// the second unit has nothing logged and goes without cascade
	require.NoError(t, f.authoring.DeleteUnit(ctx, f.coach, tree.Units[1].Unit.ID, false))
}

func TestDeleteProgramCascadesAndAdministratorMayDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.exerciseProgram(t)
	logged, err := f.completions.LogCompletion(ctx, f.subject, tree.Units[0].Items[0].ID, "2026-03-01", squatResult(10))
	require.NoError(t, err)

	// administrators delete but do not author
	_, err = f.authoring.AddUnit(ctx, f.admin, tree.Program.ID, UnitDraft{Name: "Admin day"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.authoring.DeleteProgram(ctx, f.subject, tree.Program.ID), ErrForbidden)

	f.recorder.Reset()
	require.NoError(t, f.authoring.DeleteProgram(ctx, f.admin, tree.Program.ID))

	_, err = f.store.Completions().GetByID(ctx, logged.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.authoring.GetProgram(ctx, f.coach, tree.Program.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	plan := f.recorder.OfType(domain.EventPlanUpdated)
	require.Len(t, plan, 1)
	assert.Equal(t, domain.PlanProgramDeleted, plan[0].Change)
	assert.Equal(t, f.subject.ActorID, plan[0].SubjectID)
}

func TestReassignProgram(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.exerciseProgram(t)
	f.recorder.Reset()

	p, err := f.authoring.ReassignProgram(ctx, f.coach, tree.Program.ID, f.otherSubject.ActorID)
	require.NoError(t, err)
	assert.Equal(t, f.otherSubject.ActorID, p.SubjectID)

	plan := f.recorder.OfType(domain.EventPlanUpdated)
	require.Len(t, plan, 2)
	assert.Equal(t, domain.PlanProgramUnassigned, plan[0].Change)
	assert.Equal(t, f.subject.ActorID, plan[0].SubjectID)
	assert.Equal(t, domain.PlanProgramReassigned, plan[1].Change)
	assert.Equal(t, f.otherSubject.ActorID, plan[1].SubjectID)

	_, err = f.authoring.GetProgram(ctx, f.subject, tree.Program.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.authoring.GetProgram(ctx, f.otherSubject, tree.Program.ID)
	assert.NoError(t, err)

	// another coach's subject is out of reach
	strangerID := primitive.NewObjectID()
	otherCoachID := f.otherCoach.ActorID
	f.store.PutUser(domain.User{ID: strangerID, Role: domain.RoleSubject, CoachID: &otherCoachID})
	_, err = f.authoring.ReassignProgram(ctx, f.coach, tree.Program.ID, strangerID)
	assert.ErrorIs(t, err, ErrForbidden)

	// once the new subject logs, the program is pinned
	_, err = f.completions.LogCompletion(ctx, f.otherSubject, tree.Units[0].Items[0].ID, "2026-03-01", squatResult(10))
	require.NoError(t, err)
	_, err = f.authoring.ReassignProgram(ctx, f.coach, tree.Program.ID, f.subject.ActorID)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

// --- Completions ---

func TestLogCompletionIsIdempotentPerOccurrence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.exerciseProgram(t)
	squat := tree.Units[0].Items[0]

	first, err := f.completions.LogCompletion(ctx, f.subject, squat.ID, "2026-03-01", squatResult(8))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Revision)
	assert.Nil(t, first.Approval)

	second, err := f.completions.LogCompletion(ctx, f.subject, squat.ID, "2026-03-01", squatResult(10))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.Revision)

	other, err := f.completions.LogCompletion(ctx, f.subject, squat.ID, "2026-03-02", squatResult(12))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	list, err := f.completions.ListItemCompletions(ctx, f.coach, squat.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2026-03-02", list[0].OccurrenceKey)
	assert.Equal(t, 10, list[1].Exercise.Reps)

	done := f.recorder.OfType(domain.EventExerciseCompleted)
	require.Len(t, done, 3)
	assert.Equal(t, f.coach.ActorID, done[0].CoachID)
	assert.Equal(t, squat.ID, *done[1].ItemID)
	assert.Equal(t, int64(2), done[1].Revision)
}

func TestLogCompletionDefaultsToTodayUTC(t *testing.T) {
	f := newFixture(t)
	tree := f.exerciseProgram(t)
	f.completions.(*completionService).now = func() time.Time {
		return time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	}

	c, err := f.completions.LogCompletion(context.Background(), f.subject, tree.Units[0].Items[0].ID, "", squatResult(10))
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", c.OccurrenceKey)
}

func TestOnlyTheAssigneeMayLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.exerciseProgram(t)
	squat := tree.Units[0].Items[0].ID
	f.recorder.Reset()

	for _, actor := range []domain.Identity{f.coach, f.otherCoach, f.otherSubject, f.admin} {
		_, err := f.completions.LogCompletion(ctx, actor, squat, "2026-03-01", squatResult(10))
		assert.ErrorIs(t, err, ErrForbidden, actor.Role)
	}

	// unknown items look the same as foreign ones
	_, err := f.completions.LogCompletion(ctx, f.subject, primitive.NewObjectID(), "2026-03-01", squatResult(10))
	assert.ErrorIs(t, err, ErrForbidden)

	list, err := f.completions.ListItemCompletions(ctx, f.coach, squat)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.recorder.Events())
}

func TestCompletionPayloadMustMatchItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exercise := f.exerciseProgram(t).Units[0].Items[0]
	nutrition := f.nutritionProgram(t)
	meal := nutrition.Units[0].Items[0]

	cases := map[string]struct {
		item    primitive.ObjectID
		payload CompletionPayload
	}{
		"meal on exercise":  {exercise.ID, mealResult(meal)},
		"nothing":           {exercise.ID, CompletionPayload{}},
		"exercise on meal":  {meal.ID, squatResult(10)},
		"foreign option":    {meal.ID, CompletionPayload{Meal: &MealPayload{OptionID: primitive.NewObjectID()}}},
		"difficulty range":  {exercise.ID, CompletionPayload{Exercise: &domain.ExerciseResult{Sets: 1, Reps: 1, Difficulty: 11}}},
		"foreign photo key": {meal.ID, CompletionPayload{Meal: &MealPayload{OptionID: meal.Options[0].ID, PhotoRef: "meal-photos/elsewhere/x.jpg"}}},
	}
	for name, tc := range cases {
		_, err := f.completions.LogCompletion(ctx, f.subject, tc.item, "2026-03-01", tc.payload)
		assert.ErrorIs(t, err, ErrValidation, name)
	}
}

func TestApprovalLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meal := f.nutritionProgram(t).Units[0].Items[0]

	c, err := f.completions.LogCompletion(ctx, f.subject, meal.ID, "2026-03-01", mealResult(meal))
	require.NoError(t, err)
	require.NotNil(t, c.Approval)
	assert.Equal(t, domain.ApprovalPending, c.Approval.State)
	require.Len(t, f.recorder.OfType(domain.EventMealLogged), 1)

	// the subject cannot decide on their own meal
	_, err = f.completions.Approve(ctx, f.subject, c.ID, DecisionInput{})
	assert.ErrorIs(t, err, ErrForbidden)

	approved, err := f.completions.Approve(ctx, f.coach, c.ID, DecisionInput{})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, approved.Approval.State)

	_, err = f.completions.Approve(ctx, f.coach, c.ID, DecisionInput{})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.completions.Reject(ctx, f.coach, c.ID, DecisionInput{})
	assert.ErrorIs(t, err, ErrConflict)

	revoked, err := f.completions.Revoke(ctx, f.coach, c.ID, DecisionInput{Reason: "portion too large"})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, revoked.Approval.State)

	rejections := f.recorder.OfType(domain.EventMealRejected)
	require.Len(t, rejections, 1)
	assert.True(t, rejections[0].Revoked)
	assert.Equal(t, f.subject.ActorID, rejections[0].SubjectID)

	// resubmission starts a new pending round and keeps the history
	again, err := f.completions.LogCompletion(ctx, f.subject, meal.ID, "2026-03-01", mealResult(meal))
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, domain.ApprovalPending, again.Approval.State)
	assert.Len(t, again.Approval.Decisions, 4)

	// a decision made against the old revision loses
	stale := c.Revision
	_, err = f.completions.Reject(ctx, f.coach, c.ID, DecisionInput{ExpectedRevision: &stale})
	assert.ErrorIs(t, err, ErrConflict)

	current := again.Revision
	rejected, err := f.completions.Reject(ctx, f.coach, c.ID, DecisionInput{ExpectedRevision: &current, Reason: "no photo"})
	require.NoError(t, err)
	last := rejected.Approval.Decisions[len(rejected.Approval.Decisions)-1]
	assert.Equal(t, domain.DecisionReject, last.Action)
	assert.Equal(t, f.coach.ActorID, last.ActorID)
	assert.Equal(t, "no photo", last.Reason)
}

func TestConcurrentApprovalsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meal := f.nutritionProgram(t).Units[0].Items[0]
	c, err := f.completions.LogCompletion(ctx, f.subject, meal.ID, "2026-03-01", mealResult(meal))
	require.NoError(t, err)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.completions.Approve(ctx, f.coach, c.ID, DecisionInput{})
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), conflicts.Load())
	assert.Len(t, f.recorder.OfType(domain.EventMealApproved), 1)
}

func TestExerciseCompletionsHaveNoApprovalPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.exerciseProgram(t)
	c, err := f.completions.LogCompletion(ctx, f.subject, tree.Units[0].Items[0].ID, "2026-03-01", squatResult(10))
	require.NoError(t, err)

	_, err = f.completions.Approve(ctx, f.coach, c.ID, DecisionInput{})
	assert.ErrorIs(t, err, ErrNoApprovalPhase)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestTransientUpsertFailuresAreRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.exerciseProgram(t)
	squat := tree.Units[0].Items[0].ID

	flaky := &flakyCompletions{CompletionRepository: f.store.Completions()}
	flaky.failures.Store(2)
	f.repos.Completions = flaky
	f.build(t)

	c, err := f.completions.LogCompletion(ctx, f.subject, squat, "2026-03-01", squatResult(10))
	require.NoError(t, err)
	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.Equal(t, int64(1), c.Revision)

	// more failures than attempts surface as transient, with nothing written
	flaky.failures.Store(10)
	flaky.calls.Store(0)
	f.recorder.Reset()
	_, err = f.completions.LogCompletion(ctx, f.subject, squat, "2026-03-02", squatResult(10))
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(testRetry.MaxAttempts), flaky.calls.Load())
	assert.Empty(t, f.recorder.Events())

	list, err := f.store.Completions().ListByItem(ctx, squat)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// --- Media ---

func TestMealPhotos(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.nutritionProgram(t)
	meal := tree.Units[0].Items[0]

	up, err := f.completions.RequestPhotoUpload(ctx, f.subject, meal.ID, "image/jpeg")
	require.NoError(t, err)
	assert.True(t, storage.OwnsPhotoKey(up.Key, tree.Program.ID, f.subject.ActorID))
	assert.Contains(t, up.URL, up.Key)

	_, err = f.completions.RequestPhotoUpload(ctx, f.subject, meal.ID, "text/plain")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.completions.RequestPhotoUpload(ctx, f.coach, meal.ID, "image/jpeg")
	assert.ErrorIs(t, err, ErrForbidden)

	payload := mealResult(meal)
	payload.Meal.PhotoRef = up.Key
	c, err := f.completions.LogCompletion(ctx, f.subject, meal.ID, "2026-03-01", payload)
	require.NoError(t, err)

	url, err := f.completions.PhotoURL(ctx, f.coach, c.ID)
	require.NoError(t, err)
	assert.Contains(t, url, up.Key)

	// replacing the photo deletes the old object
	next, err := f.completions.RequestPhotoUpload(ctx, f.subject, meal.ID, "image/png")
	require.NoError(t, err)
	payload.Meal.PhotoRef = next.Key
	_, err = f.completions.LogCompletion(ctx, f.subject, meal.ID, "2026-03-01", payload)
	require.NoError(t, err)
	assert.Equal(t, []string{up.Key}, f.files.deleted)
}

func TestPhotosWithoutMediaStore(t *testing.T) {
	f := newFixture(t)
	authz, err := access.NewAuthorizer(f.store, f.store.Users())
	require.NoError(t, err)
	f.completions = NewCompletionService(f.repos, authz, f.recorder, nil, 0, testRetry)
	meal := f.nutritionProgram(t).Units[0].Items[0]

	_, err = f.completions.RequestPhotoUpload(context.Background(), f.subject, meal.ID, "image/jpeg")
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}
