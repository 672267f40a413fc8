package models

import (
	"strings"
	"time"
)

// Role represents the available roles for authorization decisions.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         Role       `db:"role" json:"role"`
	Enabled      bool       `db:"enabled" json:"enabled"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Roles returns the role list carried into token claims.
func (u *User) Roles() []string {
	return []string{string(u.Role)}
}

// Principal is the authenticated identity attached to a request.
// Derived from a verified access token; lives only for the duration of
// the request and is never persisted.
type Principal struct {
	Subject       string   `json:"subject"`
	Roles         []string `json:"roles"`
	Authenticated bool     `json:"authenticated"`
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, string(role)) {
			return true
		}
	}
	return false
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
