package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/xid"

	"github.com/sakif/survey-access/internal/apperror"
	"github.com/sakif/survey-access/internal/lock"
	"github.com/sakif/survey-access/internal/model"
	"github.com/sakif/survey-access/internal/repository"
	"github.com/sakif/survey-access/internal/storage"
)

// DefaultMaxAudioBytes is the upload limit when none is configured (10 MiB).
const DefaultMaxAudioBytes = 10 << 20

// AudioRoute is the path the stored audio is served under.
const AudioRoute = "/api/survey/audio/"

// SurveyOptions carries the submission settings.
type SurveyOptions struct {
	// PublicBaseURL prefixes the stored audio reference URL.
	PublicBaseURL string
	MaxAudioBytes int64
	Now           func() time.Time
}

// SurveyService stores questionnaires and enforces one submission per user.
type SurveyService struct {
	surveys repository.SurveyRepository
	users   repository.UserRepository
	audio   storage.AudioStore
	locker  lock.Locker
	baseURL string
	maxSize int64
	now     func() time.Time
	logger  *slog.Logger
}

func NewSurveyService(
	surveys repository.SurveyRepository,
	users repository.UserRepository,
	audio storage.AudioStore,
	locker lock.Locker,
	opts SurveyOptions,
	logger *slog.Logger,
) *SurveyService {
	if opts.MaxAudioBytes <= 0 {
		opts.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &SurveyService{
		surveys: surveys,
		users:   users,
		audio:   audio,
		locker:  locker,
		baseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		maxSize: opts.MaxAudioBytes,
		now:     opts.Now,
		logger:  logger,
	}
}

// AudioUpload is the audio introduction attached to a submission. Content
// must be positioned at the start of the file.
type AudioUpload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// SubmitInput is one submission as received from the survey page.
type SubmitInput struct {
	Token      string
	SurveyData []byte
	Audio      *AudioUpload
}

// CheckSubmission reports whether userID already has a stored survey.
func (s *SurveyService) CheckSubmission(ctx context.Context, userID string) (*model.SubmissionStatus, error) {
	survey, err := s.surveys.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return &model.SubmissionStatus{}, nil
		}
		return nil, fmt.Errorf("service/survey: checking submission for %s: %w", userID, err)
	}

	submittedAt := survey.SubmittedAt
	return &model.SubmissionStatus{HasSubmitted: true, SubmittedAt: &submittedAt}, nil
}

// Submit validates and stores one questionnaire with its audio file.
//
// The access token is re-verified, the audio and answers are checked, and
// then, under a per-user lock, the submission guard runs, the audio is
// stored and the row is inserted (revoking the token in the same
// transaction). If the insert fails the stored audio is removed again.
func (s *SurveyService) Submit(ctx context.Context, in SubmitInput) (*model.SurveyResponse, error) {
	user, err := s.users.GetByAccessToken(ctx, in.Token, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid or expired token")
		}
		return nil, fmt.Errorf("service/survey: verifying access token: %w", err)
	}

	if in.Audio == nil || in.Audio.Content == nil {
		return nil, apperror.ValidationFailed("audioIntroduction", "audio file is required")
	}
	ext, contentType, err := s.checkAudio(in.Audio)
	if err != nil {
		return nil, err
	}

	var answers model.SurveyAnswers
	if err := json.Unmarshal(in.SurveyData, &answers); err != nil {
		return nil, apperror.ValidationFailed("surveyData", "survey data is not valid JSON: "+err.Error())
	}
	answers.FullName = user.Name
	answers.Email = user.Email
	NormalizeSurvey(&answers)
	if fields := ValidateSurvey(&answers); len(fields) > 0 {
		return nil, apperror.Invalid(fields)
	}

	unlock, err := s.locker.TryLock(ctx, "survey:"+user.ID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, apperror.AlreadyExists("a submission for this user is already in progress")
		}
		return nil, apperror.DependencyFailed("submission lock unavailable", err)
	}
	defer unlock()

	status, err := s.CheckSubmission(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if status.HasSubmitted {
		return nil, apperror.AlreadyExists("survey already submitted")
	}

	objectName := xid.New().String() + ext
	if err := s.audio.Save(ctx, objectName, in.Audio.Content, in.Audio.Size, contentType); err != nil {
		return nil, apperror.DependencyFailed("failed to store audio file", err)
	}

	survey := &model.SurveyResponse{
		UserID:            user.ID,
		SurveyAnswers:     answers,
		AudioIntroduction: s.baseURL + AudioRoute + objectName,
		AudioObject:       objectName,
		SubmittedAt:       s.now().UTC(),
	}

	if err := s.surveys.Create(ctx, survey); err != nil {
		s.discardAudio(ctx, objectName)
		return nil, fmt.Errorf("service/survey: storing survey for %s: %w", user.ID, err)
	}

	s.logger.Info("survey submitted",
		slog.String("surveyID", survey.ID),
		slog.String("userID", user.ID),
		slog.String("audio", objectName),
	)
	return survey, nil
}

// checkAudio validates extension, size and sniffed content, and rewinds the
// upload. It returns the lower-cased extension and the content type to store
// the object with.
func (s *SurveyService) checkAudio(a *AudioUpload) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(a.Filename))
	if !storage.IsAllowedExtension(ext) {
		return "", "", apperror.ValidationFailed("audioIntroduction",
			"audio file must be one of: "+strings.Join(storage.AllowedExtensions(), ", "))
	}
	if a.Size <= 0 {
		return "", "", apperror.ValidationFailed("audioIntroduction", "audio file is empty")
	}
	if a.Size > s.maxSize {
		return "", "", apperror.ValidationFailed("audioIntroduction",
			fmt.Sprintf("audio file must be %s or smaller", humanize.IBytes(uint64(s.maxSize))))
	}

	mt, err := mimetype.DetectReader(a.Content)
	if err != nil {
		return "", "", fmt.Errorf("service/survey: reading audio upload: %w", err)
	}
	if _, err := a.Content.Seek(0, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("service/survey: rewinding audio upload: %w", err)
	}
	if !isAudioContent(mt) {
		return "", "", apperror.ValidationFailed("audioIntroduction",
			fmt.Sprintf("audio file content looks like %s, not audio", mt.String()))
	}

	return ext, storage.ContentType(ext), nil
}

// isAudioContent accepts what audio recorders produce. m4a sniffs as an MP4
// container and some encoders emit headers the detector does not know, so
// opaque binary passes as well.
func isAudioContent(mt *mimetype.MIME) bool {
	switch {
	case strings.HasPrefix(mt.String(), "audio/"):
		return true
	case mt.Is("application/ogg"), mt.Is("video/mp4"), mt.Is("application/octet-stream"):
		return true
	}
	return false
}

func (s *SurveyService) discardAudio(ctx context.Context, name string) {
	if err := s.audio.Delete(context.WithoutCancel(ctx), name); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("removing orphaned audio failed",
			slog.String("audio", name),
			slog.String("error", err.Error()),
		)
	}
}

// List returns every survey, newest first.
func (s *SurveyService) List(ctx context.Context) ([]model.SurveyResponse, error) {
	surveys, err := s.surveys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/survey: listing surveys: %w", err)
	}
	return surveys, nil
}

func (s *SurveyService) GetByID(ctx context.Context, id string) (*model.SurveyResponse, error) {
	survey, err := s.surveys.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/survey: fetching survey %s: %w", id, err)
	}
	return survey, nil
}

// OpenAudio opens a stored audio file for serving.
func (s *SurveyService) OpenAudio(ctx context.Context, name string) (*storage.Object, error) {
	obj, err := s.audio.Open(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperror.NotFound("audio file", name)
		}
		return nil, fmt.Errorf("service/survey: opening audio %s: %w", name, err)
	}
	return obj, nil
}

// ExportCSV writes every survey to w in the export format.
func (s *SurveyService) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	surveys, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if err := WriteCSV(w, surveys); err != nil {
		return 0, fmt.Errorf("service/survey: writing csv: %w", err)
	}
	return len(surveys), nil
}
