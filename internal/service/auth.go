package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/survey-access/internal/apperror"
	"github.com/sakif/survey-access/internal/auth"
	"github.com/sakif/survey-access/internal/model"
	"github.com/sakif/survey-access/internal/notify"
	"github.com/sakif/survey-access/internal/repository"
)

// SubmissionChecker answers "has this user already submitted?". SurveyService
// implements it; AuthService uses it to tell participants at login.
type SubmissionChecker interface {
	CheckSubmission(ctx context.Context, userID string) (*model.SubmissionStatus, error)
}

// AuthOptions carries the account settings that are not collaborators.
type AuthOptions struct {
	// FrontendURL is the origin of the survey page the access link points to.
	FrontendURL string
	// AccessTokenTTL defaults to auth.AccessTokenTTL (7 days).
	AccessTokenTTL time.Duration
	// AccessTokens defaults to auth.UUIDTokens.
	AccessTokens auth.AccessTokenGenerator
	// Now defaults to time.Now. Tests pin it.
	Now func() time.Time
}

// AuthService owns accounts: registration, login, admin approval and the
// survey access token.
type AuthService struct {
	users        repository.UserRepository
	submissions  SubmissionChecker
	tokens       *auth.TokenService
	passwords    *auth.PasswordService
	notifier     notify.Notifier
	accessTokens auth.AccessTokenGenerator
	frontendURL  string
	accessTTL    time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	submissions SubmissionChecker,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	notifier notify.Notifier,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthService {
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = auth.AccessTokenTTL
	}
	if opts.AccessTokens == nil {
		opts.AccessTokens = auth.UUIDTokens{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &AuthService{
		users:        users,
		submissions:  submissions,
		tokens:       tokens,
		passwords:    passwords,
		notifier:     notifier,
		accessTokens: opts.AccessTokens,
		frontendURL:  strings.TrimRight(opts.FrontendURL, "/"),
		accessTTL:    opts.AccessTokenTTL,
		now:          opts.Now,
		logger:       logger,
	}
}

// RegisterInput is the body of POST /api/auth/register.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// LoginInput is the body of POST /api/auth/login.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is what a successful login returns. HasSubmitted is only set
// for participants.
type LoginResult struct {
	Token        string      `json:"token"`
	User         *model.User `json:"user"`
	HasSubmitted *bool       `json:"hasSubmitted,omitempty"`
}

// Register creates a pending participant. The account cannot reach the
// survey until an admin approves it.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)

	if err := validateStruct(in); err != nil {
		return nil, err
	}

	user, err := s.newUser(in.Name, in.Email, in.Password, model.RoleParticipant)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: registering %s: %w", in.Email, err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// CreateAdmin creates an approved administrator. It backs the
// "surveyctl create-admin" command; there is no HTTP route for it.
func (s *AuthService) CreateAdmin(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)

	if err := validateStruct(in); err != nil {
		return nil, err
	}

	user, err := s.newUser(in.Name, in.Email, in.Password, model.RoleAdmin)
	if err != nil {
		return nil, err
	}
	user.Approved = true

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating admin %s: %w", in.Email, err)
	}

	s.logger.Info("admin created", slog.String("userID", user.ID), slog.String("email", user.Email))
	return user, nil
}

func (s *AuthService) newUser(name, email, password string, role model.Role) (*model.User, error) {
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordLength))
	}
	return &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}, nil
}

// Login checks the credentials and issues a session token.
//
// Unknown email and wrong password produce the same error. Participants
// that are not approved yet are refused with ErrForbidden; admins are never
// gated on approval.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	invalid := apperror.ValidationFailed("credentials", "invalid credentials")

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: loading %s: %w", in.Email, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("password hash check failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, invalid
	}

	if !user.IsAdmin() && !user.Approved {
		return nil, apperror.Forbidden("account is pending approval")
	}

	token, err := s.tokens.Generate(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing session for %s: %w", user.ID, err)
	}

	result := &LoginResult{Token: token, User: user}

	if !user.IsAdmin() && s.submissions != nil {
		status, err := s.submissions.CheckSubmission(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("service/auth: checking submission for %s: %w", user.ID, err)
		}
		result.HasSubmitted = &status.HasSubmitted
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID), slog.String("role", string(user.Role)))
	return result, nil
}

// Approve grants survey access to a user.
//
// A fresh access token is minted and mailed first. Only when the mail
// transport accepted the message is the user updated, so a failed delivery
// leaves the record exactly as it was. Re-approving replaces any earlier
// token.
func (s *AuthService) Approve(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: approving %s: %w", userID, err)
	}

	token, err := s.accessTokens.NewAccessToken()
	if err != nil {
		return nil, fmt.Errorf("service/auth: approving %s: %w", userID, err)
	}
	expiresAt := s.now().UTC().Add(s.accessTTL)

	msg := notify.ApprovalEmail{
		To:        user.Email,
		Name:      user.Name,
		Link:      notify.AccessLink(s.frontendURL, token),
		ExpiresAt: expiresAt,
	}
	if err := s.notifier.SendApproval(ctx, msg); err != nil {
		s.logger.Error("approval email failed, user left unapproved",
			slog.String("userID", user.ID),
			slog.String("email", user.Email),
			slog.String("error", err.Error()),
		)
		return nil, apperror.DependencyFailed("Failed to approve user: Email sending failed", err)
	}

	if err := s.users.GrantAccess(ctx, user.ID, token, expiresAt); err != nil {
		return nil, fmt.Errorf("service/auth: storing access token for %s: %w", user.ID, err)
	}

	user.Approved = true
	user.AccessToken = &token
	user.AccessTokenExpiresAt = &expiresAt

	s.logger.Info("user approved",
		slog.String("userID", user.ID),
		slog.Time("accessExpiresAt", expiresAt),
	)
	return user, nil
}

// VerifyAccessToken resolves a survey access token to its owner.
//
// Unknown, expired, revoked and empty tokens all produce the same
// ErrUnauthorized so callers cannot tell them apart.
func (s *AuthService) VerifyAccessToken(ctx context.Context, token string) (*model.UserIdentity, error) {
	user, err := s.users.GetByAccessToken(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid or expired token")
		}
		return nil, fmt.Errorf("service/auth: verifying access token: %w", err)
	}

	return &model.UserIdentity{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

// GetUserByID returns the user for the given ID.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user id is required")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// ListUsers returns every account, or only those awaiting approval.
func (s *AuthService) ListUsers(ctx context.Context, pendingOnly bool) ([]model.User, error) {
	users, err := s.users.List(ctx, repository.UserListOptions{PendingOnly: pendingOnly})
	if err != nil {
		return nil, fmt.Errorf("service/auth: listing users: %w", err)
	}
	return users, nil
}

// DeleteUser removes an account. Surveys the user submitted are kept.
func (s *AuthService) DeleteUser(ctx context.Context, id string) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return fmt.Errorf("service/auth: deleting user %s: %w", id, err)
	}
	s.logger.Info("user deleted", slog.String("userID", id))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
