package models

import "time"

// RefreshToken represents the single persisted refresh credential for a
// user. At most one non-revoked row exists per user; creating a new one
// removes the previous row.
type RefreshToken struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	Token         string     `db:"token" json:"-"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UsageCount    int        `db:"usage_count" json:"usage_count"`
	LastUsedAt    *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	Active        bool       `db:"active" json:"active"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason *string    `db:"revoked_reason" json:"revoked_reason,omitempty"`
	CreatedIP     string     `db:"created_ip" json:"created_ip"`
	UserAgent     string     `db:"user_agent" json:"user_agent"`
}

// IsExpired reports whether the credential has passed its expiry.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsValid reports whether the credential can still be exchanged:
// active, not revoked, not expired.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return t.Active && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
