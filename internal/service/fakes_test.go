package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/survey-access/internal/apperror"
	"github.com/sakif/survey-access/internal/auth"
	"github.com/sakif/survey-access/internal/lock"
	"github.com/sakif/survey-access/internal/model"
	"github.com/sakif/survey-access/internal/notify"
	"github.com/sakif/survey-access/internal/repository"
	"github.com/sakif/survey-access/internal/storage"
)

// =========================================================================
// FAKES
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. It is safe for
// concurrent use so the submission race tests can share it.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	grantErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == user.Email {
			return apperror.AlreadyExists("user already exists")
		}
	}
	user.ID = xid.New().String()
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	if user.Role == "" {
		user.Role = model.RoleParticipant
	}
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == strings.ToLower(strings.TrimSpace(email)) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) GetByAccessToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.AccessToken != nil && *u.AccessToken == token && u.HasSurveyAccess(now) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("access token", "")
}

func (f *fakeUserRepo) GrantAccess(_ context.Context, id, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.grantErr != nil {
		return f.grantErr
	}
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.Approved = true
	u.AccessToken = &token
	u.AccessTokenExpiresAt = &expiresAt
	return nil
}

func (f *fakeUserRepo) List(_ context.Context, opts repository.UserListOptions) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.User
	for _, u := range f.users {
		if opts.PendingOnly && (u.Approved || u.IsAdmin()) {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", id)
	}
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) revoke(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.users[userID]; ok {
		u.AccessToken = nil
		u.AccessTokenExpiresAt = nil
	}
}

// fakeSurveyRepo enforces one survey per user like the UNIQUE index does
// and revokes the owner's token on insert.
type fakeSurveyRepo struct {
	mu      sync.Mutex
	users   *fakeUserRepo
	surveys []model.SurveyResponse

	createErr error
}

func newFakeSurveyRepo(users *fakeUserRepo) *fakeSurveyRepo {
	return &fakeSurveyRepo{users: users}
}

func (f *fakeSurveyRepo) Create(_ context.Context, survey *model.SurveyResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	for _, s := range f.surveys {
		if s.UserID == survey.UserID {
			return apperror.AlreadyExists("survey already submitted")
		}
	}
	survey.ID = xid.New().String()
	f.surveys = append(f.surveys, *survey)
	f.users.revoke(survey.UserID)
	return nil
}

func (f *fakeSurveyRepo) GetByID(_ context.Context, id string) (*model.SurveyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.surveys {
		if s.ID == id {
			copied := s
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("survey", id)
}

func (f *fakeSurveyRepo) GetByUserID(_ context.Context, userID string) (*model.SurveyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.surveys {
		if s.UserID == userID {
			copied := s
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("survey for user", userID)
}

func (f *fakeSurveyRepo) List(_ context.Context) ([]model.SurveyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := append([]model.SurveyResponse(nil), f.surveys...)
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

func (f *fakeSurveyRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.surveys)
}

// fakeNotifier records approval emails, or fails when err is set.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.ApprovalEmail
	err  error
}

func (f *fakeNotifier) SendApproval(_ context.Context, msg notify.ApprovalEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// memAudio is an in-memory storage.AudioStore.
type memAudio struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
}

func newMemAudio() *memAudio {
	return &memAudio{objects: make(map[string][]byte)}
}

func (m *memAudio) Save(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = b
	return nil
}

func (m *memAudio) Open(_ context.Context, name string) (*storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.objects[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Object{Body: nopSeekCloser{bytes.NewReader(b)}, Size: int64(len(b))}, nil
}

func (m *memAudio) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[name]; !ok {
		return storage.ErrNotFound
	}
	delete(m.objects, name)
	return nil
}

func (m *memAudio) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type nopSeekCloser struct{ io.ReadSeeker }

func (nopSeekCloser) Close() error { return nil }

// =========================================================================
// HELPERS
// =========================================================================

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedTokens hands out a predictable sequence of access tokens.
type fixedTokens struct {
	mu sync.Mutex
	n  int
}

func (f *fixedTokens) NewAccessToken() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return "access-token-" + string(rune('0'+f.n)), nil
}

type testEnv struct {
	users    *fakeUserRepo
	surveys  *fakeSurveyRepo
	notifier *fakeNotifier
	audio    *memAudio
	auth     *AuthService
	survey   *SurveyService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	env := &testEnv{
		users:    newFakeUserRepo(),
		notifier: &fakeNotifier{},
		audio:    newMemAudio(),
	}
	env.surveys = newFakeSurveyRepo(env.users)

	now := func() time.Time { return testNow }

	env.survey = NewSurveyService(env.surveys, env.users, env.audio, lock.NewLocal(), SurveyOptions{
		PublicBaseURL: "http://localhost:8080",
		MaxAudioBytes: 1024,
		Now:           now,
	}, testLogger())

	env.auth = NewAuthService(env.users, env.survey, tokens, auth.NewPasswordServiceForTest(4), env.notifier, AuthOptions{
		FrontendURL:  "http://localhost:3000",
		AccessTokens: &fixedTokens{},
		Now:          now,
	}, testLogger())

	return env
}

// approvedUser registers and approves a participant and returns the user
// together with the access token from the email.
func (e *testEnv) approvedUser(t *testing.T, name, email string) (*model.User, string) {
	t.Helper()
	ctx := context.Background()

	user, err := e.auth.Register(ctx, RegisterInput{Name: name, Email: email, Password: "secret123"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	approved, err := e.auth.Approve(ctx, user.ID)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	return approved, *approved.AccessToken
}

func longText(n int) string {
	return strings.Repeat("a", n)
}

// validAnswers passes ValidateSurvey with every long answer at the minimum.
func validAnswers() model.SurveyAnswers {
	long := longText(MinLongAnswer)
	return model.SurveyAnswers{
		Age:                   34,
		Country:               "Portugal",
		Gender:                "Female",
		PrimaryDiscipline:     "Painting",
		ExperienceYears:       "4-7 years",
		Background:            long,
		Training:              "Self-taught",
		Mediums:               []string{"Oil", "Watercolor"},
		HoursPerWeek:          model.IntOf(20),
		Platforms:             []string{"Instagram"},
		HasExhibited:          true,
		ExhibitionSource:      "Invited",
		IdeaGeneration:        long,
		Challenges:            long,
		PreferredCreationTime: long,
		EmotionalState:        long,
		MoodInfluence:         long,
		WorkEnvironment:       "Home studio",
		FiveYearGoal:          long,
		PlatformSuggestion:    long,
		ConsentToResearch:     true,
	}
}

// mp3Bytes returns n bytes that sniff as MPEG audio (ID3v2 header).
func mp3Bytes(n int) []byte {
	b := make([]byte, n)
	copy(b, []byte("ID3\x03\x00\x00\x00\x00\x00\x0a"))
	return b
}

func mp3Upload(n int) *AudioUpload {
	return &AudioUpload{Filename: "intro.MP3", Size: int64(n), Content: bytes.NewReader(mp3Bytes(n))}
}

var errBoom = errors.New("boom")
