// Package repository declares the storage interfaces the service layer
// depends on. internal/repository/sqlite provides the implementation.
package repository

import (
	"context"
	"time"

	"github.com/sakif/survey-access/internal/model"
)

// UserRepository is the credential store.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByAccessToken returns the user holding token if it is still valid at
	// now. Expired, revoked and unknown tokens all yield apperror.ErrNotFound.
	GetByAccessToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	// GrantAccess marks the user approved and stores a fresh access token,
	// replacing any earlier one.
	GrantAccess(ctx context.Context, id, token string, expiresAt time.Time) error
	List(ctx context.Context, opts UserListOptions) ([]model.User, error)
	Delete(ctx context.Context, id string) error
}

type UserListOptions struct {
	PendingOnly bool
}

// SurveyRepository is the survey record store.
type SurveyRepository interface {
	// Create inserts the response and revokes the owner's access token in a
	// single transaction. A second response for the same user fails with
	// apperror.ErrConflict.
	Create(ctx context.Context, survey *model.SurveyResponse) error
	GetByID(ctx context.Context, id string) (*model.SurveyResponse, error)
	GetByUserID(ctx context.Context, userID string) (*model.SurveyResponse, error)
	// List returns every response, newest first.
	List(ctx context.Context) ([]model.SurveyResponse, error)
}
