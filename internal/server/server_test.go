package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/survey-access/internal/auth"
	"github.com/sakif/survey-access/internal/lock"
	"github.com/sakif/survey-access/internal/model"
	"github.com/sakif/survey-access/internal/notify"
	sqliteRepo "github.com/sakif/survey-access/internal/repository/sqlite"
	"github.com/sakif/survey-access/internal/storage"
)

const testSecret = "integration-test-secret-0123456789"

// captureNotifier records approval emails instead of sending them.
type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.ApprovalEmail
}

func (c *captureNotifier) SendApproval(_ context.Context, msg notify.ApprovalEmail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureNotifier) last(t *testing.T) notify.ApprovalEmail {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent, "no approval email was sent")
	return c.sent[len(c.sent)-1]
}

type testApp struct {
	server   *Server
	handler  http.Handler
	db       *sqliteRepo.DB
	notifier *captureNotifier
	tokens   *auth.TokenService
	adminID  string
	admin    string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return newTestAppWith(t, 0)
}

// newTestAppWith builds the server on an in-memory database with one stored
// admin account whose session token is app.admin.
func newTestAppWith(t *testing.T, uploadTimeout time.Duration) *testApp {
	t.Helper()

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	audio, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	notifier := &captureNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := New(Config{
		Port:          0,
		FrontendURL:   "http://localhost:3000",
		PublicBaseURL: "http://localhost:8080",
		JWTSecret:     testSecret,
		MaxAudioBytes: 64 << 10,
		AuthRateLimit: 100,
		UploadTimeout: uploadTimeout,
	}, Deps{
		DB:       db,
		Audio:    audio,
		Locker:   lock.NewLocal(),
		Notifier: notifier,
	}, logger)
	require.NoError(t, err)

	adminUser := &model.User{Name: "Root", Email: "root@example.com", PasswordHash: "unused", Role: model.RoleAdmin, Approved: true}
	require.NoError(t, db.Users().Create(context.Background(), adminUser))

	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	admin, err := tokens.Generate(adminUser.ID, model.RoleAdmin)
	require.NoError(t, err)

	return &testApp{
		server:   srv,
		handler:  srv.Handler(),
		db:       db,
		notifier: notifier,
		tokens:   tokens,
		adminID:  adminUser.ID,
		admin:    admin,
	}
}

func (a *testApp) do(t *testing.T, method, path string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *testApp) asAdmin() http.Header {
	return http.Header{"X-Auth-Token": {a.admin}}
}

func jsonHeader() http.Header {
	return http.Header{"Content-Type": {"application/json"}}
}

// exactly returns a string of n characters.
func exactly(n int) string {
	return strings.Repeat("a", n)
}

// surveyJSON is the surveyData part as the survey page posts it, with
// numbers as strings.
func surveyJSON(t *testing.T) string {
	t.Helper()
	long := exactly(150)
	data := map[string]any{
		"fullName":              "Mallory",
		"email":                 "mallory@example.com",
		"age":                   "29",
		"country":               "Portugal",
		"gender":                "Female",
		"primaryDiscipline":     "Painting",
		"experienceYears":       "1-3 years",
		"background":            long,
		"training":              "Self-taught",
		"mediums":               []string{"Oil"},
		"hoursPerWeek":          "12",
		"artStyle":              []string{"Impressionism"},
		"platforms":             []string{"Instagram"},
		"hasExhibited":          false,
		"collaborates":          false,
		"ideaGeneration":        long,
		"usesReferences":        true,
		"challenges":            long,
		"preferredCreationTime": long,
		"emotionalState":        long,
		"moodInfluence":         long,
		"workEnvironment":       "Home studio",
		"musicPreference":       "Prefer silence",
		"monetizes":             false,
		"fiveYearGoal":          long,
		"platformSuggestion":    long,
		"consentToResearch":     true,
		"wantsUpdates":          false,
	}
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return string(b)
}

func submission(t *testing.T, token, surveyData string, audio []byte) (io.Reader, http.Header) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("token", token))
	require.NoError(t, mw.WriteField("surveyData", surveyData))
	fw, err := mw.CreateFormFile("audioIntroduction", "intro.mp3")
	require.NoError(t, err)
	_, err = fw.Write(audio)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, http.Header{"Content-Type": {mw.FormDataContentType()}}
}

func mp3(n int) []byte {
	b := make([]byte, n)
	copy(b, "ID3\x03\x00\x00\x00\x00\x00\x0a")
	return b
}

func registerAndApprove(t *testing.T, app *testApp) (userID, accessToken string) {
	t.Helper()

	rr := app.do(t, http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"name":"Alice","email":"Alice@Example.com","password":"secret1"}`), jsonHeader())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = app.do(t, http.MethodGet, "/api/users/pending", nil, app.asAdmin())
	require.Equal(t, http.StatusOK, rr.Code)
	var pending []model.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&pending))
	require.Len(t, pending, 1)
	userID = pending[0].ID
	assert.Equal(t, "alice@example.com", pending[0].Email)

	rr = app.do(t, http.MethodPost, "/api/auth/approve/"+userID, nil, app.asAdmin())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	link, err := url.Parse(app.notifier.last(t).Link)
	require.NoError(t, err)
	assert.Equal(t, "/survey", link.Path)
	accessToken = link.Query().Get("token")
	require.NotEmpty(t, accessToken)
	return userID, accessToken
}

// =========================================================================
// END-TO-END FLOW
// =========================================================================

func TestSurveyFlow(t *testing.T) {
	app := newTestApp(t)
	userID, token := registerAndApprove(t, app)

	// The approved participant can log in and has not submitted yet.
	rr := app.do(t, http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"alice@example.com","password":"secret1"}`), jsonHeader())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var login struct {
		Token        string `json:"token"`
		HasSubmitted *bool  `json:"hasSubmitted"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&login))
	assert.NotEmpty(t, login.Token)
	require.NotNil(t, login.HasSubmitted)
	assert.False(t, *login.HasSubmitted)

	rr = app.do(t, http.MethodGet, "/api/users/me", nil, http.Header{"Authorization": {"Bearer " + login.Token}})
	require.Equal(t, http.StatusOK, rr.Code)

	// The token resolves to Alice.
	rr = app.do(t, http.MethodGet, "/api/auth/verify-token/"+token, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var verify map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&verify))
	assert.Equal(t, true, verify["valid"])
	assert.Equal(t, userID, verify["userId"])
	assert.Equal(t, "Alice", verify["name"])

	// Submit once.
	body, header := submission(t, token, surveyJSON(t), mp3(200))
	rr = app.do(t, http.MethodPost, "/api/survey/submit", body, header)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var submitted struct {
		SurveyID string `json:"surveyId"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.SurveyID)

	rr = app.do(t, http.MethodGet, "/api/survey/check-submission/"+userID, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status model.SubmissionStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.True(t, status.HasSubmitted)
	assert.NotNil(t, status.SubmittedAt)

	// The token was revoked with the insert.
	rr = app.do(t, http.MethodGet, "/api/auth/verify-token/"+token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	body, header = submission(t, token, surveyJSON(t), mp3(200))
	rr = app.do(t, http.MethodPost, "/api/survey/submit", body, header)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// The stored survey carries the token owner's identity, not the posted one.
	rr = app.do(t, http.MethodGet, "/api/survey/"+submitted.SurveyID, nil, app.asAdmin())
	require.Equal(t, http.StatusOK, rr.Code)
	var survey model.SurveyResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&survey))
	assert.Equal(t, "Alice", survey.FullName)
	assert.Equal(t, "alice@example.com", survey.Email)
	assert.EqualValues(t, 29, survey.Age)
	assert.Equal(t, "N/A", survey.ExhibitionSource)
	require.True(t, strings.HasPrefix(survey.AudioIntroduction, "http://localhost:8080/api/survey/audio/"))

	// The audio reference is served back.
	audioPath := strings.TrimPrefix(survey.AudioIntroduction, "http://localhost:8080")
	rr = app.do(t, http.MethodGet, audioPath, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "audio/mpeg", rr.Header().Get("Content-Type"))
	assert.Equal(t, mp3(200), rr.Body.Bytes())

	// Export has the header plus one row.
	rr = app.do(t, http.MethodGet, "/api/survey/export/csv", nil, app.asAdmin())
	require.Equal(t, http.StatusOK, rr.Code)
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Submission Date,Full Name,Email,Age"))
	assert.Contains(t, lines[1], "Alice,alice@example.com,29,Portugal")

	// Logging in again reports the submission.
	rr = app.do(t, http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"alice@example.com","password":"secret1"}`), jsonHeader())
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&login))
	require.NotNil(t, login.HasSubmitted)
	assert.True(t, *login.HasSubmitted)
}

func TestSubmit_ReapprovedUserStillRejected(t *testing.T) {
	app := newTestApp(t)
	userID, token := registerAndApprove(t, app)

	body, header := submission(t, token, surveyJSON(t), mp3(200))
	rr := app.do(t, http.MethodPost, "/api/survey/submit", body, header)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// A second approval mints a fresh token, but the guard still holds.
	rr = app.do(t, http.MethodPost, "/api/auth/approve/"+userID, nil, app.asAdmin())
	require.Equal(t, http.StatusOK, rr.Code)
	link, err := url.Parse(app.notifier.last(t).Link)
	require.NoError(t, err)
	fresh := link.Query().Get("token")
	require.NotEqual(t, token, fresh)

	body, header = submission(t, fresh, surveyJSON(t), mp3(200))
	rr = app.do(t, http.MethodPost, "/api/survey/submit", body, header)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "survey already submitted")
}

// =========================================================================
// ACCESS CONTROL
// =========================================================================

func TestAccessControl(t *testing.T) {
	app := newTestApp(t)

	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	participant, err := tokens.Generate("user-1", model.RoleParticipant)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		header http.Header
		want   int
	}{
		{"users without session", http.MethodGet, "/api/users", nil, http.StatusUnauthorized},
		{"users as participant", http.MethodGet, "/api/users", http.Header{"X-Auth-Token": {participant}}, http.StatusForbidden},
		{"users as admin", http.MethodGet, "/api/users", app.asAdmin(), http.StatusOK},
		{"surveys without session", http.MethodGet, "/api/survey", nil, http.StatusUnauthorized},
		{"export as participant", http.MethodGet, "/api/survey/export/csv", http.Header{"X-Auth-Token": {participant}}, http.StatusForbidden},
		{"approve as participant", http.MethodPost, "/api/auth/approve/u1", http.Header{"X-Auth-Token": {participant}}, http.StatusForbidden},
		{"approve unknown user", http.MethodPost, "/api/auth/approve/nope", app.asAdmin(), http.StatusNotFound},
		{"delete unknown user", http.MethodDelete, "/api/users/nope", app.asAdmin(), http.StatusNotFound},
		{"garbage session", http.MethodGet, "/api/users/me", http.Header{"Authorization": {"Bearer nope"}}, http.StatusUnauthorized},
		{"check submission is public", http.MethodGet, "/api/survey/check-submission/nobody", nil, http.StatusOK},
		{"missing audio", http.MethodGet, "/api/survey/audio/missing.mp3", nil, http.StatusNotFound},
		{"health", http.MethodGet, "/healthz", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.do(t, tt.method, tt.path, nil, tt.header)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestAdminRoutes_RecheckStoredAccount(t *testing.T) {
	app := newTestApp(t)

	ghost, err := app.tokens.Generate("never-existed", model.RoleAdmin)
	require.NoError(t, err)
	rr := app.do(t, http.MethodGet, "/api/users", nil, http.Header{"X-Auth-Token": {ghost}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "admin claim without an account")

	// A second admin is removed while their session token is still valid.
	second := &model.User{Name: "Temp", Email: "temp@example.com", PasswordHash: "unused", Role: model.RoleAdmin, Approved: true}
	require.NoError(t, app.db.Users().Create(context.Background(), second))
	session, err := app.tokens.Generate(second.ID, model.RoleAdmin)
	require.NoError(t, err)
	header := http.Header{"X-Auth-Token": {session}}

	rr = app.do(t, http.MethodGet, "/api/survey/export/csv", nil, header)
	require.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, app.db.Users().Delete(context.Background(), second.ID))

	for _, path := range []string{"/api/users", "/api/users/pending", "/api/survey", "/api/survey/export/csv"} {
		rr = app.do(t, http.MethodGet, path, nil, header)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
	rr = app.do(t, http.MethodPost, "/api/auth/approve/"+app.adminID, nil, header)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// A participant account holding a forged admin claim is refused too.
	participant := &model.User{Name: "Pat", Email: "pat@example.com", PasswordHash: "unused", Approved: true}
	require.NoError(t, app.db.Users().Create(context.Background(), participant))
	forged, err := app.tokens.Generate(participant.ID, model.RoleAdmin)
	require.NoError(t, err)
	rr = app.do(t, http.MethodGet, "/api/users", nil, http.Header{"X-Auth-Token": {forged}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

// =========================================================================
// SERVER LIFECYCLE
// =========================================================================

func TestHTTPServer_Deadlines(t *testing.T) {
	app := newTestApp(t)
	hs := app.server.httpServer()

	assert.Equal(t, readHeaderTimeout, hs.ReadHeaderTimeout)
	assert.Equal(t, readTimeout, hs.ReadTimeout)
	assert.Equal(t, writeTimeout, hs.WriteTimeout)
	assert.Positive(t, hs.IdleTimeout)
}

func TestSubmit_SlowUploadOutlivesReadTimeout(t *testing.T) {
	app := newTestAppWith(t, 10*time.Second)

	hs := app.server.httpServer()
	hs.ReadTimeout = 200 * time.Millisecond
	ts := httptest.NewUnstartedServer(hs.Handler)
	ts.Config = hs
	ts.Start()
	defer ts.Close()

	body, header := submission(t, "not-a-token", surveyJSON(t), mp3(4096))
	data, err := io.ReadAll(body)
	require.NoError(t, err)

	// Trickle the form in over roughly a second, well past ReadTimeout.
	pr, pw := io.Pipe()
	go func() {
		for len(data) > 0 {
			n := min(512, len(data))
			if _, err := pw.Write(data[:n]); err != nil {
				return
			}
			data = data[n:]
			time.Sleep(80 * time.Millisecond)
		}
		pw.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/survey/submit", pr)
	require.NoError(t, err)
	req.Header = header
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The whole form arrived and reached the token check.
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_PendingParticipantForbidden(t *testing.T) {
	app := newTestApp(t)

	rr := app.do(t, http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"name":"Bob","email":"bob@example.com","password":"secret1"}`), jsonHeader())
	require.Equal(t, http.StatusOK, rr.Code)

	rr = app.do(t, http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"name":"Bob","email":"bob@example.com","password":"secret1"}`), jsonHeader())
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = app.do(t, http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"bob@example.com","password":"secret1"}`), jsonHeader())
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = app.do(t, http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"bob@example.com","password":"wrong-password"}`), jsonHeader())
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCORS_Preflight(t *testing.T) {
	app := newTestApp(t)

	rr := app.do(t, http.MethodOptions, "/api/survey/submit", nil, http.Header{
		"Origin":                        {"http://localhost:3000"},
		"Access-Control-Request-Method": {"POST"},
	})

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}
