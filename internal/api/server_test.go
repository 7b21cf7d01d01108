package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/speacher/internal/config"
	"github.com/snarg/speacher/internal/jobs"
	"github.com/snarg/speacher/internal/pipeline"
	"github.com/snarg/speacher/internal/provider"
)

// stubAdapter succeeds immediately with an empty result.
type stubAdapter struct{}

func (s *stubAdapter) Name() string { return "aws" }

func (s *stubAdapter) Upload(context.Context, string, string) (string, error) {
	return "s3://bucket/key", nil
}

func (s *stubAdapter) StartJob(_ context.Context, _, _ string, _ provider.JobOptions) (string, error) {
	return "handle", nil
}

func (s *stubAdapter) PollStatus(context.Context, string) (*provider.Status, error) {
	return &provider.Status{State: provider.StateSucceeded, ResultLocation: "loc"}, nil
}

func (s *stubAdapter) FetchResult(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (s *stubAdapter) Cleanup(context.Context, string) error { return nil }

func newTestServer(t *testing.T, authToken string) (*Server, *jobs.Store) {
	t.Helper()

	store := jobs.NewStore()
	registry := provider.NewRegistry()
	registry.Register(&stubAdapter{})

	p := pipeline.New(pipeline.Options{
		Store:        store,
		Registry:     registry,
		PollInterval: 5 * time.Millisecond,
		JobTimeout:   time.Minute,
		Log:          zerolog.Nop(),
	})

	cfg := &config.Config{
		HTTPAddr:    ":0",
		AuthToken:   authToken,
		UploadDir:   t.TempDir(),
		MinDuration: 100 * time.Millisecond,
		MaxDuration: 2 * time.Hour,
	}

	srv := NewServer(context.Background(), cfg, Deps{
		Store:    store,
		Registry: registry,
		Pipeline: p,
		Version:  "test",
	}, zerolog.Nop())
	return srv, store
}

func doRequest(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestBearerAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rr := doRequest(t, srv, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = doRequest(t, srv, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = doRequest(t, srv, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rr := doRequest(t, srv, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	// Health is reachable without auth
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rr := doRequest(t, srv, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, []string{"aws"}, resp.Providers)
	assert.Equal(t, "not_configured", resp.Checks["database"])
	assert.Equal(t, "not_configured", resp.Checks["mqtt"])
}

func TestListProviders(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil)
	rr := doRequest(t, srv, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Providers []ProviderInfo `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "aws", resp.Providers[0].Name)
	assert.InDelta(t, 0.024, resp.Providers[0].RatePerMinute, 1e-9)
}

func TestJobsScopedToOwner(t *testing.T) {
	srv, store := newTestServer(t, "")

	id := store.Create(jobs.CreateParams{OwnerID: "alice", Filename: "a.wav", Provider: "aws"})
	store.Create(jobs.CreateParams{OwnerID: "bob", Filename: "b.wav", Provider: "aws"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("X-User-ID", "alice")
	rr := doRequest(t, srv, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Jobs []*jobs.Record `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, id, resp.Jobs[0].JobID)

	// Another owner cannot read the job
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id, nil)
	req.Header.Set("X-User-ID", "bob")
	rr = doRequest(t, srv, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// The owner can
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id, nil)
	req.Header.Set("X-User-ID", "alice")
	rr = doRequest(t, srv, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDeleteJob(t *testing.T) {
	srv, store := newTestServer(t, "")

	id := store.Create(jobs.CreateParams{OwnerID: "alice", Filename: "a.wav", Provider: "aws"})

	// Other owners cannot delete
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+id, nil)
	req.Header.Set("X-User-ID", "bob")
	rr := doRequest(t, srv, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotNil(t, store.Get(id))

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+id, nil)
	req.Header.Set("X-User-ID", "alice")
	rr = doRequest(t, srv, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Nil(t, store.Get(id))

	// Deleting again is a no-op
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+id, nil)
	req.Header.Set("X-User-ID", "alice")
	rr = doRequest(t, srv, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestHistoryUnavailableWithoutDatabase(t *testing.T) {
	srv, _ := newTestServer(t, "")

	for _, path := range []string{
		"/api/v1/transcriptions",
		"/api/v1/transcriptions/stats",
		"/api/v1/transcriptions/some-id",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := doRequest(t, srv, req)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}
}

func TestTranscribeValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")

	t.Run("missing_provider", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{}, "file", "a.wav", testWAV(t, 1.0))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe", body)
		req.Header.Set("Content-Type", contentType)
		rr := doRequest(t, srv, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing_file", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"provider": "aws"}, "", "", nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe", body)
		req.Header.Set("Content-Type", contentType)
		rr := doRequest(t, srv, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown_provider", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"provider": "whisper"}, "file", "a.wav", testWAV(t, 1.0))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe", body)
		req.Header.Set("Content-Type", contentType)
		rr := doRequest(t, srv, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("audio_too_short", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"provider": "aws"}, "file", "a.wav", testWAV(t, 0.01))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe", body)
		req.Header.Set("Content-Type", contentType)
		rr := doRequest(t, srv, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestTranscribeAccepted(t *testing.T) {
	srv, store := newTestServer(t, "")

	fields := map[string]string{
		"provider":    "aws",
		"diarization": "true",
	}
	body, contentType := multipartBody(t, fields, "file", "meeting.wav", testWAV(t, 1.5))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "alice")
	rr := doRequest(t, srv, req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var rec jobs.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.NotEmpty(t, rec.JobID)
	assert.Equal(t, "alice", rec.OwnerID)
	assert.Equal(t, "meeting.wav", rec.Filename)
	assert.Equal(t, "aws", rec.Provider)

	// The stub provider succeeds immediately; the job should complete.
	require.Eventually(t, func() bool {
		r := store.Get(rec.JobID)
		return r != nil && r.Status == jobs.StatusCompleted
	}, 5*time.Second, time.Millisecond)
}

// multipartBody builds a multipart request body with the given form fields
// and an optional file part.
func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, fileData []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = fw.Write(fileData)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// testWAV builds a minimal valid PCM WAV of the given length in seconds.
func testWAV(t *testing.T, seconds float64) []byte {
	t.Helper()

	const (
		sampleRate = 8000
		channels   = 1
		bitsPerSmp = 16
	)
	byteRate := sampleRate * channels * bitsPerSmp / 8
	dataSize := int(seconds * float64(byteRate))

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSmp/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSmp))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}
