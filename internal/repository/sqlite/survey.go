package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/survey-access/internal/apperror"
	"github.com/sakif/survey-access/internal/model"
	"github.com/sakif/survey-access/internal/repository"
)

var _ repository.SurveyRepository = (*SurveyDB)(nil)

// SurveyDB is the survey record store backed by the surveys table.
//
// The questionnaire answers are kept as one JSON document per row; only the
// owner, the audio reference and the submission time are real columns.
type SurveyDB struct {
	conn *sql.DB
}

const surveySelect = `
	SELECT s.id, s.user_id, s.answers, s.audio_url, s.audio_object, s.submitted_at,
	       u.id, u.name, u.email
	FROM surveys s
	LEFT JOIN users u ON u.id = s.user_id`

// Create inserts the survey and clears the owner's access token in one
// transaction, so a stored survey always means a spent token.
func (s *SurveyDB) Create(ctx context.Context, survey *model.SurveyResponse) error {
	answers, err := json.Marshal(survey.SurveyAnswers)
	if err != nil {
		return fmt.Errorf("sqlite: encoding survey answers: %w", err)
	}

	survey.ID = xid.New().String()
	if survey.SubmittedAt.IsZero() {
		survey.SubmittedAt = time.Now().UTC()
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning survey transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO surveys (id, user_id, answers, audio_url, audio_object, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		survey.ID,
		survey.UserID,
		string(answers),
		survey.AudioIntroduction,
		survey.AudioObject,
		survey.SubmittedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.AlreadyExists("survey already submitted")
		}
		return fmt.Errorf("sqlite: inserting survey for user %s: %w", survey.UserID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET access_token = NULL, access_token_expires_at = NULL, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(),
		survey.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: revoking access token for user %s: %w", survey.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing survey for user %s: %w", survey.UserID, err)
	}
	return nil
}

// GetByID returns one survey. Returns apperror.ErrNotFound if it doesn't exist.
func (s *SurveyDB) GetByID(ctx context.Context, id string) (*model.SurveyResponse, error) {
	row := s.conn.QueryRowContext(ctx, surveySelect+` WHERE s.id = ?`, id)

	survey, err := scanSurvey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("survey", id)
		}
		return nil, fmt.Errorf("sqlite: getting survey %s: %w", id, err)
	}
	return survey, nil
}

// GetByUserID returns the survey owned by userID, or apperror.ErrNotFound.
func (s *SurveyDB) GetByUserID(ctx context.Context, userID string) (*model.SurveyResponse, error) {
	row := s.conn.QueryRowContext(ctx, surveySelect+` WHERE s.user_id = ?`, userID)

	survey, err := scanSurvey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("survey for user", userID)
		}
		return nil, fmt.Errorf("sqlite: getting survey for user %s: %w", userID, err)
	}
	return survey, nil
}

// List returns all surveys, newest first. xid IDs sort by creation time and
// break ties between submissions in the same instant.
func (s *SurveyDB) List(ctx context.Context) ([]model.SurveyResponse, error) {
	rows, err := s.conn.QueryContext(ctx, surveySelect+` ORDER BY s.submitted_at DESC, s.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing surveys: %w", err)
	}
	defer rows.Close()

	surveys := []model.SurveyResponse{}
	for rows.Next() {
		survey, err := scanSurvey(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning survey row: %w", err)
		}
		surveys = append(surveys, *survey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating survey rows: %w", err)
	}

	return surveys, nil
}

func scanSurvey(row rowScanner) (*model.SurveyResponse, error) {
	var (
		survey     model.SurveyResponse
		answers    string
		ownerID    sql.NullString
		ownerName  sql.NullString
		ownerEmail sql.NullString
	)

	err := row.Scan(
		&survey.ID,
		&survey.UserID,
		&answers,
		&survey.AudioIntroduction,
		&survey.AudioObject,
		&survey.SubmittedAt,
		&ownerID,
		&ownerName,
		&ownerEmail,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(answers), &survey.SurveyAnswers); err != nil {
		return nil, fmt.Errorf("decoding answers of survey %s: %w", survey.ID, err)
	}

	if ownerID.Valid {
		survey.Owner = &model.UserIdentity{
			ID:    ownerID.String,
			Name:  ownerName.String,
			Email: ownerEmail.String,
		}
	}
	return &survey, nil
}
