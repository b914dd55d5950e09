package store

import (
	"time"
)

// AdminRole is the distinguished role granting universal access.
const AdminRole = "admin"

// User represents an account in the system. Directory-authenticated
// accounts may have an empty PasswordHash; locally-authenticated accounts
// must have at least one of Username or Email set.
type User struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Username         *string    `gorm:"uniqueIndex" json:"username"`
	Email            *string    `gorm:"uniqueIndex" json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	PasswordHash     string     `gorm:"not null;default:''" json:"-"`
	Active           bool       `gorm:"not null;default:false" json:"active"`
	FirstName        string     `gorm:"not null;default:''" json:"first_name"`
	LastName         string     `gorm:"not null;default:''" json:"last_name"`
	Roles            []Role     `gorm:"many2many:users_roles" json:"roles"`
	APIKeys          []APIKey   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Name returns the user's display name.
func (u *User) Name() string {
	return u.FirstName + " " + u.LastName
}

// HasLiteralRole reports whether the user's local role set contains name.
// No admin override is applied here; that is the authorizer's concern.
func (u *User) HasLiteralRole(name string) bool {
	for i := range u.Roles {
		if u.Roles[i].Name == name {
			return true
		}
	}

	return false
}

// Login returns the identifier the user is known by: username when set,
// otherwise email.
func (u *User) Login() string {
	if u.Username != nil {
		return *u.Username
	}

	if u.Email != nil {
		return *u.Email
	}

	return ""
}

// Role is a named permission grouping referenced by authorization checks.
type Role struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"uniqueIndex;not null" json:"name"`
	Label string `gorm:"not null;default:''" json:"label"`
}

// APIKey is a programmatic credential pair. The ID is a short opaque
// token used for lookup; only the bcrypt hash of the longer secret is
// persisted. Keys are deleted when their owner is deleted.
type APIKey struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Hash      string    `gorm:"not null" json:"-"`
	Label     *string   `json:"label"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	User      User      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is an active browser login.
type Session struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Token        string     `gorm:"uniqueIndex;not null" json:"-"`
	UserID       uint       `gorm:"not null" json:"user_id"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at"`
}
