package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/speacher/internal/audio"
	"github.com/snarg/speacher/internal/jobs"
	"github.com/snarg/speacher/internal/pipeline"
)

const maxUploadBytes = 500 << 20

// TranscribeHandler accepts media uploads and starts transcription jobs.
// baseCtx outlives individual requests; submitted jobs run against it so
// they survive the request that created them.
type TranscribeHandler struct {
	pipeline  *pipeline.Pipeline
	store     *jobs.Store
	baseCtx   context.Context
	uploadDir string
	minDur    float64
	maxDur    float64
	log       zerolog.Logger
}

// NewTranscribeHandler creates the upload handler. Durations are bounds in
// seconds applied to every uploaded file.
func NewTranscribeHandler(p *pipeline.Pipeline, store *jobs.Store, baseCtx context.Context, uploadDir string, minDur, maxDur float64, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		pipeline:  p,
		store:     store,
		baseCtx:   baseCtx,
		uploadDir: uploadDir,
		minDur:    minDur,
		maxDur:    maxDur,
		log:       log.With().Str("handler", "transcribe").Logger(),
	}
}

// Routes registers the transcription endpoint.
func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Post("/transcribe", h.Transcribe)
}

// Transcribe handles POST /api/v1/transcribe.
// Expects a multipart form with a "file" part plus "provider", and
// optionally "language", "diarization", and "max_speakers" fields.
// Responds 202 with the created job record; the transcription itself runs
// in the background and is tracked through the jobs endpoints.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	providerName := r.FormValue("provider")
	if providerName == "" {
		WriteError(w, http.StatusBadRequest, "missing provider field")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		WriteError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	localPath, err := h.spool(file, filename)
	if err != nil {
		h.log.Error().Err(err).Msg("spooling upload failed")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	duration, err := audio.Validate(r.Context(), localPath, h.minDur, h.maxDur)
	if err != nil {
		os.Remove(localPath)
		WriteErrorDetail(w, http.StatusBadRequest, "invalid audio file", err.Error())
		return
	}

	req := pipeline.Request{
		OwnerID:     Owner(r),
		LocalPath:   localPath,
		Filename:    filename,
		Provider:    providerName,
		Language:    language(r),
		Diarization: FormBool(r, "diarization", FormBool(r, "enable_diarization", false)),
		MaxSpeakers: FormInt(r, "max_speakers", 0),
		Duration:    duration,
		RemoveLocal: true,
	}

	jobID, err := h.pipeline.Submit(h.baseCtx, req)
	if err != nil {
		os.Remove(localPath)
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.log.Info().
		Str("job_id", jobID).
		Str("provider", providerName).
		Str("filename", filename).
		Float64("duration", duration).
		Msg("transcription accepted")

	WriteJSON(w, http.StatusAccepted, h.store.Get(jobID))
}

// spool copies the uploaded part into the upload directory under a unique
// name that keeps the original extension.
func (h *TranscribeHandler) spool(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s%s", uuid.NewString(), filepath.Ext(filename))
	path := filepath.Join(h.uploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func language(r *http.Request) string {
	if v := strings.TrimSpace(r.FormValue("language")); v != "" {
		return v
	}
	return "en-US"
}
