package profile

import (
	"strings"
	"time"

	"github.com/trezcool/homework/core"
)

// Roles
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// DefaultFullName is used when neither a name hint nor an email local part is available.
const DefaultFullName = "User"

var (
	AllRoles = []string{RoleStudent, RoleTeacher, RoleAdmin}

	// SignUpRoles are the roles a principal may pick for themselves when registering.
	SignUpRoles = []string{RoleStudent, RoleTeacher}

	rolePriorities = map[string]int{
		RoleAdmin:   30,
		RoleTeacher: 20,
		RoleStudent: 10,
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

func IsValidRole(role string) bool {
	_, ok := rolePriorities[role]
	return ok
}

func IsSignUpRole(role string) bool {
	return role == RoleStudent || role == RoleTeacher
}

// Profile is the application-owned user record keyed to a Principal.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (p Profile) IsAdmin() bool   { return p.Role == RoleAdmin }
func (p Profile) IsTeacher() bool { return p.Role == RoleTeacher }
func (p Profile) IsStudent() bool { return p.Role == RoleStudent }

// New returns the insert payload for p: the store assigns id and timestamps.
func (p Profile) New() NewProfile {
	return NewProfile{
		UserID:   p.UserID,
		Email:    p.Email,
		FullName: p.FullName,
		Role:     p.Role,
	}
}

// NewProfile contains information needed to create a new Profile.
type NewProfile struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// DisplayName picks the name of a profile: the hint when set, else the email local part, else DefaultFullName.
func DisplayName(nameHint, email string) string {
	if name := core.CleanString(nameHint); name != "" {
		return name
	}
	if local := strings.SplitN(core.CleanString(email), "@", 2)[0]; local != "" {
		return local
	}
	return DefaultFullName
}

// Default synthesizes the profile of a principal that has none yet.
// The same record is submitted for persistence and, if that fails, used as is: its id is the
// principal id and its timestamps come from the client clock.
func Default(principalID, email, nameHint string, now time.Time) Profile {
	now = now.UTC()
	return Profile{
		ID:        principalID,
		UserID:    principalID,
		Email:     email,
		FullName:  DisplayName(nameHint, email),
		Role:      RoleStudent,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
