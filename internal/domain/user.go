package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role distinguishes the three kinds of actors.
type Role string

const (
	RoleCoach         Role = "coach"
	RoleSubject       Role = "subject"
	RoleAdministrator Role = "administrator"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCoach, RoleSubject, RoleAdministrator:
		return true
	}
	return false
}

// User is an actor provisioned by the identity provider. This service reads
// users but never creates or mutates them.
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Email     string             `bson:"email" json:"email"`
	Role      Role               `bson:"role" json:"role"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`

	// Subject-only. Nil until the subject is assigned to a coach.
	CoachID *primitive.ObjectID `bson:"coachId,omitempty" json:"coachId,omitempty"`
}

func (u *User) IsCoach() bool {
	return u.Role == RoleCoach
}

func (u *User) IsSubject() bool {
	return u.Role == RoleSubject
}

// CoachedBy reports whether u is a subject assigned to coachID.
func (u *User) CoachedBy(coachID primitive.ObjectID) bool {
	return u.IsSubject() && u.CoachID != nil && *u.CoachID == coachID
}

// Identity is a verified (actor, role) pair as supplied by the identity
// provider for a request or a notification connection.
type Identity struct {
	ActorID primitive.ObjectID `json:"actorId"`
	Role    Role               `json:"role"`
}

func (i Identity) IsAdministrator() bool {
	return i.Role == RoleAdministrator
}
