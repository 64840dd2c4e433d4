package access

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/repository/memory"
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ctx = context.Background()

type fixture struct {
	store   *memory.Store
	auth    *Authorizer
	coach   domain.Identity
	subject domain.Identity
	admin   domain.Identity
	tree    *domain.ProgramTree
	done    *domain.Completion
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s := memory.NewStore()
	coachID, subjectID := primitive.NewObjectID(), primitive.NewObjectID()
	s.PutUser(domain.User{ID: coachID, Role: domain.RoleCoach, Name: "Coach"})
	s.PutUser(domain.User{ID: subjectID, Role: domain.RoleSubject, Name: "Subject", CoachID: &coachID})

	tree := &domain.ProgramTree{
		Program: domain.Program{CoachID: coachID, SubjectID: subjectID, Kind: domain.ProgramKindExercise, Name: "Week 1"},
		Units: []domain.UnitTree{{
			Unit:  domain.Unit{Name: "Day 1"},
			Items: []domain.Item{{Kind: domain.ItemKindExercise, Name: "Squat", Exercise: &domain.ExerciseTarget{Sets: 3, Reps: "10"}}},
		}},
	}
	require.NoError(t, s.Programs().CreateWithUnits(ctx, tree))

	c := &domain.Completion{
		ItemID: tree.Units[0].Items[0].ID, SubjectID: subjectID, OccurrenceKey: "2024-05-01",
		Exercise: &domain.ExerciseResult{Sets: 3, Reps: 8, Weight: 40},
	}
	_, err := s.Completions().Upsert(ctx, c)
	require.NoError(t, err)

	a, err := NewAuthorizer(s, s.Users())
	require.NoError(t, err)
	return &fixture{
		store:   s,
		auth:    a,
		coach:   domain.Identity{ActorID: coachID, Role: domain.RoleCoach},
		subject: domain.Identity{ActorID: subjectID, Role: domain.RoleSubject},
		admin:   domain.Identity{ActorID: primitive.NewObjectID(), Role: domain.RoleAdministrator},
		tree:    tree,
		done:    c,
	}
}

func TestCapabilityTable(t *testing.T) {
	a, err := NewAuthorizer(nil, nil)
	require.NoError(t, err)

	tests := []struct {
		rel  Relation
		kind ResourceKind
		want []Action
	}{
		{RelationOwner, KindProgram, []Action{ActionRead, ActionAuthor, ActionDelete}},
		{RelationOwner, KindCompletion, []Action{ActionRead, ActionDecide}},
		{RelationAssignee, KindProgram, []Action{ActionRead}},
		{RelationAssignee, KindItem, []Action{ActionRead, ActionLog}},
		{RelationAdministrator, KindProgram, []Action{ActionRead, ActionDelete}},
		{RelationAdministrator, KindUnit, []Action{ActionRead}},
		{RelationCoachOf, KindSubject, []Action{ActionRead, ActionAuthor}},
		{RelationSelf, KindSubject, []Action{ActionRead}},
		{RelationNone, KindProgram, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.rel)+"/"+string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, a.Capabilities(tt.rel, tt.kind).Actions())
		})
	}
}

func TestAuthorizeRelations(t *testing.T) {
	f := setup(t)
	programRef := Program(f.tree.Program.ID)

	d, err := f.auth.Authorize(ctx, f.coach, ActionAuthor, programRef)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, RelationOwner, d.Relation)
	assert.Equal(t, f.tree.Program.SubjectID, d.Ownership.SubjectID)

	d, err = f.auth.Authorize(ctx, f.subject, ActionAuthor, programRef)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotPermitted, d.Reason)

	d, err = f.auth.Authorize(ctx, f.subject, ActionLog, Item(f.tree.Units[0].Items[0].ID))
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = f.auth.Authorize(ctx, f.admin, ActionDelete, programRef)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = f.auth.Authorize(ctx, f.admin, ActionAuthor, Unit(f.tree.Units[0].Unit.ID))
	require.NoError(t, err)
	assert.False(t, d.Allowed, "administrators never author")

	d, err = f.auth.Authorize(ctx, f.coach, ActionDecide, Completion(f.done.ID))
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = f.auth.Authorize(ctx, f.subject, ActionDecide, Completion(f.done.ID))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestAuthorizeSubjectResource(t *testing.T) {
	f := setup(t)

	d, err := f.auth.Authorize(ctx, f.coach, ActionAuthor, Subject(f.subject.ActorID))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, RelationCoachOf, d.Relation)

	other := domain.Identity{ActorID: primitive.NewObjectID(), Role: domain.RoleCoach}
	d, err = f.auth.Authorize(ctx, other, ActionAuthor, Subject(f.subject.ActorID))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoRelation, d.Reason)

	// A coach is not a subject resource.
	d, err = f.auth.Authorize(ctx, f.coach, ActionRead, Subject(f.coach.ActorID))
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, d.Reason)
}

func TestAuthorizeUnknownReferenceDenies(t *testing.T) {
	f := setup(t)
	d, err := f.auth.Authorize(ctx, f.coach, ActionRead, Item(primitive.NewObjectID()))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotFound, d.Reason)
}

func TestAuthorizeInvalidIdentity(t *testing.T) {
	f := setup(t)
	d, err := f.auth.Authorize(ctx, domain.Identity{ActorID: f.coach.ActorID, Role: "guest"}, ActionRead, Program(f.tree.Program.ID))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

// Random nested trees resolve to their program's pair; unrelated coaches
// and subjects are denied everywhere.
func TestAuthorizeRandomTreesDenyStrangers(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := memory.NewStore()
	a, err := NewAuthorizer(s, s.Users())
	require.NoError(t, err)

	for round := 0; round < 20; round++ {
		coachID, subjectID := primitive.NewObjectID(), primitive.NewObjectID()
		tree := &domain.ProgramTree{Program: domain.Program{
			CoachID: coachID, SubjectID: subjectID, Kind: domain.ProgramKindNutrition, Name: "P",
		}}
		for u := 0; u < 1+rng.Intn(4); u++ {
			ut := domain.UnitTree{Unit: domain.Unit{Name: "U"}}
			for i := 0; i < 1+rng.Intn(3); i++ {
				ut.Items = append(ut.Items, domain.Item{
					Kind: domain.ItemKindCategory, Name: "C",
					Options: []domain.Option{{Name: "A"}, {Name: "B"}},
				})
			}
			tree.Units = append(tree.Units, ut)
		}
		require.NoError(t, s.Programs().CreateWithUnits(ctx, tree))

		var refs []Resource
		refs = append(refs, Program(tree.Program.ID))
		for _, ut := range tree.Units {
			refs = append(refs, Unit(ut.Unit.ID))
			for _, it := range ut.Items {
				refs = append(refs, Item(it.ID))
				c := &domain.Completion{
					ItemID: it.ID, SubjectID: subjectID, OccurrenceKey: "2024-01-01",
					Meal: &domain.MealResult{OptionID: it.Options[rng.Intn(2)].ID},
				}
				_, err := s.Completions().Upsert(ctx, c)
				require.NoError(t, err)
				refs = append(refs, Completion(c.ID))
			}
		}

		strangers := []domain.Identity{
			{ActorID: primitive.NewObjectID(), Role: domain.RoleCoach},
			{ActorID: primitive.NewObjectID(), Role: domain.RoleSubject},
			{ActorID: subjectID, Role: domain.RoleCoach},
			{ActorID: coachID, Role: domain.RoleSubject},
		}
		for _, ref := range refs {
			o, err := a.ownership(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, coachID, o.CoachID)
			assert.Equal(t, subjectID, o.SubjectID)

			for _, who := range strangers {
				for _, act := range actions {
					d, err := a.Authorize(ctx, who, act, ref)
					require.NoError(t, err)
					assert.False(t, d.Allowed, "%s %s on %s", who.Role, act, ref.Kind)
				}
			}
		}
	}
}
