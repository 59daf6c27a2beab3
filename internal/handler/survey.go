package handler

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/sakif/survey-access/internal/apperror"
	"github.com/sakif/survey-access/internal/model"
	"github.com/sakif/survey-access/internal/service"
	"github.com/sakif/survey-access/internal/storage"
)

// Multipart field names posted by the survey page.
const (
	formToken      = "token"
	formSurveyData = "surveyData"
	formAudio      = "audioIntroduction"
)

// multipartOverhead is what the form is allowed on top of the audio file:
// the token, the survey JSON and the part headers.
const multipartOverhead = 1 << 20

// multipartMemory is how much of the form is buffered in memory before
// parts spill to temporary files.
const multipartMemory = 4 << 20

// DefaultUploadTimeout is the read and write deadline of a submission when
// none is configured. 11 MiB at 256 kbit/s takes about six minutes.
const DefaultUploadTimeout = 10 * time.Minute

// SurveyHandler serves /api/survey.
type SurveyHandler struct {
	surveys       Surveys
	maxUpload     int64
	uploadTimeout time.Duration
	logger        *slog.Logger
}

// NewSurveyHandler creates a SurveyHandler. maxAudioBytes bounds the audio
// part; the whole request may exceed it by multipartOverhead. uploadTimeout
// replaces the server's connection deadlines while a submission is read and
// answered.
func NewSurveyHandler(surveys Surveys, maxAudioBytes int64, uploadTimeout time.Duration, logger *slog.Logger) *SurveyHandler {
	if maxAudioBytes <= 0 {
		maxAudioBytes = service.DefaultMaxAudioBytes
	}
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}
	return &SurveyHandler{
		surveys:       surveys,
		maxUpload:     maxAudioBytes + multipartOverhead,
		uploadTimeout: uploadTimeout,
		logger:        logger,
	}
}

// SubmitResponse is returned by POST /api/survey/submit.
type SubmitResponse struct {
	Message  string `json:"message"`
	SurveyID string `json:"surveyId"`
}

// HandleSubmit handles POST /api/survey/submit.
//
// The body is multipart/form-data with the access token, the questionnaire
// as JSON text and the audio file. Temporary files created while parsing are
// removed before returning.
func (h *SurveyHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	h.extendDeadlines(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeError(w, r, h.logger, apperror.ValidationFailed("body",
				fmt.Sprintf("request body must be %s or smaller", humanize.IBytes(uint64(maxErr.Limit)))))
		case isTimeout(err):
			h.logger.Warn("survey upload timed out",
				slog.String("path", r.URL.Path),
				slog.Duration("timeout", h.uploadTimeout),
				slog.String("error", err.Error()),
			)
			writeJSON(w, http.StatusRequestTimeout, ErrorResponse{
				Error:   "upload_timeout",
				Message: fmt.Sprintf("the upload did not finish within %s, please retry on a faster connection", h.uploadTimeout),
			})
		default:
			writeError(w, r, h.logger, apperror.ValidationFailed("body", "expected a multipart/form-data body"))
		}
		return
	}
	defer r.MultipartForm.RemoveAll()

	in := service.SubmitInput{
		Token:      r.FormValue(formToken),
		SurveyData: []byte(r.FormValue(formSurveyData)),
	}

	file, header, err := r.FormFile(formAudio)
	switch {
	case err == nil:
		defer file.Close()
		in.Audio = &service.AudioUpload{
			Filename: header.Filename,
			Size:     header.Size,
			Content:  file,
		}
	case errors.Is(err, http.ErrMissingFile):
		// Submit reports the missing file after the token check.
	default:
		writeError(w, r, h.logger, apperror.ValidationFailed(formAudio, "could not read audio file"))
		return
	}

	survey, err := h.surveys.Submit(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, SubmitResponse{
		Message:  "Survey submitted successfully",
		SurveyID: survey.ID,
	})
}

// extendDeadlines moves the connection deadlines to uploadTimeout from now.
// Writers that cannot change deadlines, like test recorders, keep theirs.
func (h *SurveyHandler) extendDeadlines(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	deadline := time.Now().Add(h.uploadTimeout)
	for _, set := range []func(time.Time) error{rc.SetReadDeadline, rc.SetWriteDeadline} {
		if err := set(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
			h.logger.Warn("could not extend upload deadline",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// HandleCheckSubmission handles GET /api/survey/check-submission/{userId}.
func (h *SurveyHandler) HandleCheckSubmission(w http.ResponseWriter, r *http.Request) {
	status, err := h.surveys.CheckSubmission(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleList handles GET /api/survey. Admin only.
func (h *SurveyHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	surveys, err := h.surveys.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if surveys == nil {
		surveys = []model.SurveyResponse{}
	}
	writeJSON(w, http.StatusOK, surveys)
}

// HandleGetByID handles GET /api/survey/{id}. Admin only.
func (h *SurveyHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	survey, err := h.surveys.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, survey)
}

// HandleExportCSV handles GET /api/survey/export/csv. Admin only.
//
// The document is rendered into memory first so a storage error still
// produces a JSON error instead of a truncated attachment.
func (h *SurveyHandler) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	n, err := h.surveys.ExportCSV(r.Context(), &buf)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("survey export", slog.Int("rows", n))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+service.ExportFilename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("writing csv export", slog.String("error", err.Error()))
	}
}

// HandleAudio handles GET /api/survey/audio/{filename}. It supports range
// requests so browsers can seek in the player.
func (h *SurveyHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !storage.ValidName(name) {
		writeError(w, r, h.logger, apperror.NotFound("audio file", name))
		return
	}

	obj, err := h.surveys.OpenAudio(r.Context(), name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", storage.ContentType(name))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, name, obj.ModTime, obj.Body)
}
