package handler

import (
	"context"
	"io"

	"github.com/sakif/survey-access/internal/model"
	"github.com/sakif/survey-access/internal/service"
	"github.com/sakif/survey-access/internal/storage"
)

// Accounts is the part of service.AuthService the handlers use.
type Accounts interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.User, error)
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	Approve(ctx context.Context, userID string) (*model.User, error)
	VerifyAccessToken(ctx context.Context, token string) (*model.UserIdentity, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context, pendingOnly bool) ([]model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// Surveys is the part of service.SurveyService the handlers use.
type Surveys interface {
	Submit(ctx context.Context, in service.SubmitInput) (*model.SurveyResponse, error)
	CheckSubmission(ctx context.Context, userID string) (*model.SubmissionStatus, error)
	List(ctx context.Context) ([]model.SurveyResponse, error)
	GetByID(ctx context.Context, id string) (*model.SurveyResponse, error)
	OpenAudio(ctx context.Context, name string) (*storage.Object, error)
	ExportCSV(ctx context.Context, w io.Writer) (int, error)
}

var (
	_ Accounts = (*service.AuthService)(nil)
	_ Surveys  = (*service.SurveyService)(nil)
)
