// Package model defines the data structures used throughout the application.
package model

import "time"

// Role distinguishes survey participants from administrators.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleAdmin       Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleParticipant || r == RoleAdmin
}

// User is a registered account.
//
// AccessToken and AccessTokenExpiresAt are the survey-access grant minted on
// approval. Both are nil until an admin approves the user, and the token is
// cleared again once the user's survey is stored. PasswordHash and
// AccessToken never leave the server: their json tags are "-".
type User struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Email                string     `json:"email"`
	PasswordHash         string     `json:"-"`
	Role                 Role       `json:"role"`
	Approved             bool       `json:"approved"`
	AccessToken          *string    `json:"-"`
	AccessTokenExpiresAt *time.Time `json:"accessTokenExpiresAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// IsAdmin is a shorthand for Role == RoleAdmin.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasSurveyAccess reports whether the user holds an access token that is
// still valid at now.
func (u *User) HasSurveyAccess(now time.Time) bool {
	return u.AccessToken != nil && *u.AccessToken != "" &&
		u.AccessTokenExpiresAt != nil && now.Before(*u.AccessTokenExpiresAt)
}

// UserIdentity is the public part of a user returned to the survey page so
// it can pre-fill the read-only profile fields.
type UserIdentity struct {
	ID    string `json:"userId"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
