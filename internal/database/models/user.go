package models

import (
	"time"

	"github.com/lib/pq"
)

// Provider tags where an account's identity comes from.
type Provider string

const (
	ProviderLocal    Provider = "LOCAL"
	ProviderGitHub   Provider = "GITHUB"
	ProviderFacebook Provider = "FACEBOOK"
	ProviderGoogle   Provider = "GOOGLE"
)

// Built-in role titles, seeded by migration.
const (
	RoleAdmin   = "ADMIN"
	RoleTeacher = "TEACHER"
	RoleStudent = "STUDENT"
	RoleParent  = "PARENT"
	RoleUser    = "USER"
)

// User is the identity record. Accounts are never hard-deleted: Active is
// the soft-delete flag and Enabled marks a verified email.
type User struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	Email            string    `gorm:"uniqueIndex;not null" json:"email"`
	Password         string    `gorm:"not null" json:"-"`
	FirstName        string    `gorm:"not null;default:''" json:"first_name"`
	LastName         string    `gorm:"not null;default:''" json:"last_name"`
	Phone            string    `gorm:"not null;default:''" json:"phone,omitempty"`
	Active           bool      `gorm:"not null" json:"active"`
	Enabled          bool      `gorm:"not null" json:"enabled"`
	TwoFactorEnabled bool      `gorm:"not null" json:"two_factor_enabled"`
	Provider         Provider  `gorm:"not null;default:LOCAL" json:"provider"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Roles []Role `gorm:"many2many:user_roles;" json:"roles,omitempty"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}

// Username is the stable login identifier carried as the token subject.
func (u *User) Username() string {
	return u.Email
}

// RoleTitles returns the titles of the assigned roles.
func (u *User) RoleTitles() []string {
	titles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		titles = append(titles, r.Title)
	}
	return titles
}

// HasRole reports whether a role with the given title is assigned.
func (u *User) HasRole(title string) bool {
	for _, r := range u.Roles {
		if r.Title == title {
			return true
		}
	}
	return false
}

// Permissions returns the union of the permissions of all assigned roles.
func (u *User) Permissions() []string {
	seen := make(map[string]struct{})
	perms := make([]string, 0)
	for _, r := range u.Roles {
		for _, p := range r.Permissions {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			perms = append(perms, p)
		}
	}
	return perms
}

// Role is a named permission group.
type Role struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	Title       string         `gorm:"uniqueIndex;not null" json:"title"`
	Permissions pq.StringArray `gorm:"type:text[];default:'{}'" json:"permissions"`
}

// TableName overrides the table name
func (Role) TableName() string {
	return "roles"
}
