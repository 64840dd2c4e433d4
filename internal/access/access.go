// Package access decides whether an actor may perform an action on a
// resource. Decisions are values: a denial is an ordinary outcome, not an
// error.
//
// The relation between actor and resource is computed first (owner,
// assignee, coach_of, self, administrator or none) and then looked up in a
// capability table compiled once from an embedded Casbin policy.
package access

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/metrics"
	"alcyxob/coachsync/internal/repository"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Relation is how an actor stands towards a resource.
type Relation string

const (
	RelationNone          Relation = "none"
	RelationOwner         Relation = "owner"
	RelationAssignee      Relation = "assignee"
	RelationCoachOf       Relation = "coach_of"
	RelationSelf          Relation = "self"
	RelationAdministrator Relation = "administrator"
)

var relations = []Relation{
	RelationNone, RelationOwner, RelationAssignee, RelationCoachOf, RelationSelf, RelationAdministrator,
}

// Action is something an actor asks to do.
type Action string

const (
	ActionRead   Action = "read"
	ActionAuthor Action = "author"
	ActionDelete Action = "delete"
	ActionLog    Action = "log"
	ActionDecide Action = "decide"
)

var actions = []Action{ActionRead, ActionAuthor, ActionDelete, ActionLog, ActionDecide}

// ResourceKind names the type of a referenced resource.
type ResourceKind string

const (
	KindSubject    ResourceKind = "subject"
	KindProgram    ResourceKind = "program"
	KindUnit       ResourceKind = "unit"
	KindItem       ResourceKind = "item"
	KindCompletion ResourceKind = "completion"
)

var kinds = []ResourceKind{KindSubject, KindProgram, KindUnit, KindItem, KindCompletion}

// Resource is a typed reference. For KindSubject the ID is the subject's user ID.
type Resource struct {
	Kind ResourceKind
	ID   primitive.ObjectID
}

func Subject(id primitive.ObjectID) Resource    { return Resource{Kind: KindSubject, ID: id} }
func Program(id primitive.ObjectID) Resource    { return Resource{Kind: KindProgram, ID: id} }
func Unit(id primitive.ObjectID) Resource       { return Resource{Kind: KindUnit, ID: id} }
func Item(id primitive.ObjectID) Resource       { return Resource{Kind: KindItem, ID: id} }
func Completion(id primitive.ObjectID) Resource { return Resource{Kind: KindCompletion, ID: id} }

// CapabilitySet is a bitmask of actions.
type CapabilitySet uint8

func capabilityOf(a Action) CapabilitySet {
	for i, known := range actions {
		if known == a {
			return 1 << i
		}
	}
	return 0
}

// Has reports whether a is in the set.
func (c CapabilitySet) Has(a Action) bool {
	bit := capabilityOf(a)
	return bit != 0 && c&bit != 0
}

// Actions lists the set's members in declaration order.
func (c CapabilitySet) Actions() []Action {
	var out []Action
	for _, a := range actions {
		if c.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

func (c CapabilitySet) String() string {
	names := make([]string, 0, len(actions))
	for _, a := range c.Actions() {
		names = append(names, string(a))
	}
	return "{" + strings.Join(names, ",") + "}"
}

// DenyReason explains a denial.
type DenyReason string

const (
	// ReasonNotFound means the reference did not resolve. Callers must treat
	// it exactly like any other denial.
	ReasonNotFound     DenyReason = "not_found"
	ReasonNoRelation   DenyReason = "no_relation"
	ReasonNotPermitted DenyReason = "not_permitted"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed      bool
	Reason       DenyReason
	Relation     Relation
	Capabilities CapabilitySet
	// Ownership of the program the resource belongs to. Zero for subject
	// resources and unresolved references.
	Ownership domain.Ownership
}

func deny(reason DenyReason) Decision {
	return Decision{Reason: reason, Relation: RelationNone}
}

type tableKey struct {
	relation Relation
	kind     ResourceKind
}

// Authorizer resolves ownership through the repository and consults the
// compiled capability table. It holds no mutable state.
type Authorizer struct {
	owners repository.OwnershipReader
	users  repository.UserRepository
	table  map[tableKey]CapabilitySet
}

// NewAuthorizer compiles the embedded policy into a capability table.
func NewAuthorizer(owners repository.OwnershipReader, users repository.UserRepository) (*Authorizer, error) {
	table, err := compileTable()
	if err != nil {
		return nil, err
	}
	return &Authorizer{owners: owners, users: users, table: table}, nil
}

func compileTable() (map[tableKey]CapabilitySet, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if err := loadEmbeddedPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, err
	}

	table := make(map[tableKey]CapabilitySet, len(relations)*len(kinds))
	for _, rel := range relations {
		for _, kind := range kinds {
			var set CapabilitySet
			for _, act := range actions {
				ok, err := enforcer.Enforce(string(rel), string(kind), string(act))
				if err != nil {
					return nil, fmt.Errorf("enforcement failed: %w", err)
				}
				if ok {
					set |= capabilityOf(act)
				}
			}
			table[tableKey{rel, kind}] = set
		}
	}
	return table, nil
}

// loadEmbeddedPolicy parses the policy CSV line by line.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch {
		case parts[0] == "p" && len(parts) == 4:
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

// Capabilities returns what rel allows on kind.
func (a *Authorizer) Capabilities(rel Relation, kind ResourceKind) CapabilitySet {
	return a.table[tableKey{rel, kind}]
}

// Authorize decides whether id may perform action on res. The returned
// error is only set for store failures other than not-found; the Decision
// is a denial in that case.
func (a *Authorizer) Authorize(ctx context.Context, id domain.Identity, action Action, res Resource) (Decision, error) {
	d, err := a.decide(ctx, id, action, res)
	if !d.Allowed {
		metrics.AccessDenied.WithLabelValues(string(res.Kind), string(d.Reason)).Inc()
	}
	return d, err
}

func (a *Authorizer) decide(ctx context.Context, id domain.Identity, action Action, res Resource) (Decision, error) {
	if !id.Role.Valid() || id.ActorID.IsZero() {
		return deny(ReasonNoRelation), nil
	}

	var (
		rel       Relation
		ownership domain.Ownership
	)
	if res.Kind == KindSubject {
		u, err := a.users.GetByID(ctx, res.ID)
		if err != nil {
			return unresolved(err)
		}
		if !u.IsSubject() {
			return deny(ReasonNotFound), nil
		}
		rel = subjectRelation(id, u)
	} else {
		o, err := a.ownership(ctx, res)
		if err != nil {
			return unresolved(err)
		}
		ownership = o
		rel = programRelation(id, o)
	}

	if rel == RelationNone {
		return deny(ReasonNoRelation), nil
	}
	caps := a.Capabilities(rel, res.Kind)
	d := Decision{Relation: rel, Capabilities: caps, Ownership: ownership}
	if !caps.Has(action) {
		d.Reason = ReasonNotPermitted
		return d, nil
	}
	d.Allowed = true
	return d, nil
}

func unresolved(err error) (Decision, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return deny(ReasonNotFound), nil
	}
	return deny(ReasonNotFound), err
}

func (a *Authorizer) ownership(ctx context.Context, res Resource) (domain.Ownership, error) {
	switch res.Kind {
	case KindProgram:
		return a.owners.ProgramOwnership(ctx, res.ID)
	case KindUnit:
		return a.owners.UnitOwnership(ctx, res.ID)
	case KindItem:
		return a.owners.ItemOwnership(ctx, res.ID)
	case KindCompletion:
		return a.owners.CompletionOwnership(ctx, res.ID)
	}
	return domain.Ownership{}, repository.ErrNotFound
}

func programRelation(id domain.Identity, o domain.Ownership) Relation {
	switch id.Role {
	case domain.RoleAdministrator:
		return RelationAdministrator
	case domain.RoleCoach:
		if o.CoachID == id.ActorID {
			return RelationOwner
		}
	case domain.RoleSubject:
		if o.SubjectID == id.ActorID {
			return RelationAssignee
		}
	}
	return RelationNone
}

func subjectRelation(id domain.Identity, subject *domain.User) Relation {
	switch id.Role {
	case domain.RoleAdministrator:
		return RelationAdministrator
	case domain.RoleCoach:
		if subject.CoachedBy(id.ActorID) {
			return RelationCoachOf
		}
	case domain.RoleSubject:
		if subject.ID == id.ActorID {
			return RelationSelf
		}
	}
	return RelationNone
}
