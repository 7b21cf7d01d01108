package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const gcpSpeechEndpoint = "https://speech.googleapis.com/v1"

// GCPConfig holds the bucket and speech credentials for the GCP adapter.
type GCPConfig struct {
	Bucket          string
	APIKey          string // Speech-to-Text REST API key
	CredentialsFile string // optional service-account file for GCS
}

// Configured reports whether enough settings are present to register the adapter.
func (c GCPConfig) Configured() bool {
	return c.Bucket != "" && c.APIKey != ""
}

// GCPAdapter transcribes via Cloud Storage + the Speech-to-Text
// long-running recognize API.
type GCPAdapter struct {
	storage *gcs.Client
	bucket  string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// NewGCPAdapter creates the GCP adapter.
func NewGCPAdapter(ctx context.Context, cfg GCPConfig, log zerolog.Logger) (*GCPAdapter, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}

	return &GCPAdapter{
		storage: client,
		bucket:  cfg.Bucket,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 60 * time.Second},
		log:     log.With().Str("component", "gcp-adapter").Logger(),
	}, nil
}

func (g *GCPAdapter) Name() string { return "gcp" }

// Upload copies the local file into the GCS bucket and returns its gs:// URI.
func (g *GCPAdapter) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", &UploadError{Provider: "gcp", Err: err}
	}
	defer f.Close()

	w := g.storage.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", &UploadError{Provider: "gcp", Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &UploadError{Provider: "gcp", Err: err}
	}

	uri := fmt.Sprintf("gs://%s/%s", g.bucket, key)
	g.log.Info().Str("uri", uri).Msg("media uploaded to gcs")
	return uri, nil
}

// StartJob submits a longrunningrecognize request. The returned handle is
// the operation name.
func (g *GCPAdapter) StartJob(ctx context.Context, jobName, mediaURI string, opts JobOptions) (string, error) {
	config := map[string]any{
		"languageCode": opts.Language,
	}
	if opts.Diarization {
		maxSpeakers := opts.MaxSpeakers
		if maxSpeakers <= 0 {
			maxSpeakers = 4
		}
		config["diarizationConfig"] = map[string]any{
			"enableSpeakerDiarization": true,
			"maxSpeakerCount":          maxSpeakers,
		}
	}

	body, err := json.Marshal(map[string]any{
		"config": config,
		"audio":  map[string]any{"uri": mediaURI},
	})
	if err != nil {
		return "", &StartError{Provider: "gcp", Err: err}
	}

	url := fmt.Sprintf("%s/speech:longrunningrecognize?key=%s", gcpSpeechEndpoint, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &StartError{Provider: "gcp", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", &StartError{Provider: "gcp", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StartError{Provider: "gcp", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(detail))}
	}

	var op struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return "", &StartError{Provider: "gcp", Err: fmt.Errorf("decode response: %w", err)}
	}
	if op.Name == "" {
		return "", &StartError{Provider: "gcp", Err: fmt.Errorf("recognize returned no operation name")}
	}

	g.log.Info().Str("job", jobName).Str("operation", op.Name).Msg("gcp recognize operation started")
	return op.Name, nil
}

// PollStatus reads the long-running operation. On completion the
// operation name is the result location; FetchResult re-reads it and
// extracts the response payload.
func (g *GCPAdapter) PollStatus(ctx context.Context, handle string) (*Status, error) {
	op, err := g.getOperation(ctx, handle)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if !op.Done {
		return &Status{State: StateRunning}, nil
	}
	if op.Error.Message != "" {
		return &Status{State: StateFailed, FailureReason: op.Error.Message}, nil
	}
	return &Status{State: StateSucceeded, ResultLocation: handle}, nil
}

// FetchResult returns the recognize response body for a completed operation.
func (g *GCPAdapter) FetchResult(ctx context.Context, location string) (json.RawMessage, error) {
	op, err := g.getOperation(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("fetch operation: %w", err)
	}
	if !op.Done {
		return nil, fmt.Errorf("operation %s not done", location)
	}
	if len(op.Response) == 0 {
		// Succeeded but empty response: no speech detected.
		return json.RawMessage(`{}`), nil
	}
	return op.Response, nil
}

// Cleanup deletes the uploaded object from GCS.
func (g *GCPAdapter) Cleanup(ctx context.Context, remoteURI string) error {
	rest, found := strings.CutPrefix(remoteURI, "gs://")
	if !found {
		return fmt.Errorf("not a gs uri: %q", remoteURI)
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return fmt.Errorf("not a gs uri: %q", remoteURI)
	}
	return g.storage.Bucket(bucket).Object(key).Delete(ctx)
}

type gcpOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response json.RawMessage `json:"response"`
}

func (g *GCPAdapter) getOperation(ctx context.Context, name string) (*gcpOperation, error) {
	url := fmt.Sprintf("%s/operations/%s?key=%s", gcpSpeechEndpoint, name, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(detail))
	}

	var op gcpOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	return &op, nil
}
