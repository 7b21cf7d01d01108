package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/rs/zerolog"
)

// AzureConfig holds the storage and speech credentials for the Azure adapter.
type AzureConfig struct {
	StorageAccount string
	StorageKey     string
	Container      string
	SpeechKey      string
	SpeechRegion   string
}

// Configured reports whether enough settings are present to register the adapter.
func (c AzureConfig) Configured() bool {
	return c.StorageAccount != "" && c.StorageKey != "" && c.Container != "" &&
		c.SpeechKey != "" && c.SpeechRegion != ""
}

// AzureAdapter transcribes via Blob Storage + the Speech batch
// transcription REST API.
type AzureAdapter struct {
	blob      *azblob.Client
	account   string
	container string
	speechKey string
	endpoint  string
	http      *http.Client
	log       zerolog.Logger
}

// NewAzureAdapter creates the Azure adapter from shared-key credentials.
func NewAzureAdapter(cfg AzureConfig, log zerolog.Logger) (*AzureAdapter, error) {
	cred, err := azblob.NewSharedKeyCredential(cfg.StorageAccount, cfg.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.StorageAccount)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}

	return &AzureAdapter{
		blob:      client,
		account:   cfg.StorageAccount,
		container: cfg.Container,
		speechKey: cfg.SpeechKey,
		endpoint:  fmt.Sprintf("https://%s.api.cognitive.microsoft.com/speechtotext/v3.2", cfg.SpeechRegion),
		http:      &http.Client{Timeout: 60 * time.Second},
		log:       log.With().Str("component", "azure-adapter").Logger(),
	}, nil
}

func (a *AzureAdapter) Name() string { return "azure" }

// Upload copies the local file into the blob container and returns the
// blob URL.
func (a *AzureAdapter) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", &UploadError{Provider: "azure", Err: err}
	}
	defer f.Close()

	if _, err := a.blob.UploadFile(ctx, a.container, key, f, nil); err != nil {
		return "", &UploadError{Provider: "azure", Err: err}
	}

	blobURL := fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", a.account, a.container, key)
	a.log.Info().Str("url", blobURL).Msg("media uploaded to blob storage")
	return blobURL, nil
}

// StartJob creates a batch transcription for the uploaded blob. The
// returned handle is the transcription's self URL.
func (a *AzureAdapter) StartJob(ctx context.Context, jobName, mediaURI string, opts JobOptions) (string, error) {
	props := map[string]any{
		"diarizationEnabled": opts.Diarization,
	}
	if opts.Diarization && opts.MaxSpeakers > 0 {
		props["diarization"] = map[string]any{
			"speakers": map[string]any{"minCount": 1, "maxCount": opts.MaxSpeakers},
		}
	}

	body, err := json.Marshal(map[string]any{
		"contentUrls": []string{mediaURI},
		"locale":      opts.Language,
		"displayName": jobName,
		"properties":  props,
	})
	if err != nil {
		return "", &StartError{Provider: "azure", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/transcriptions", bytes.NewReader(body))
	if err != nil {
		return "", &StartError{Provider: "azure", Err: err}
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.speechKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", &StartError{Provider: "azure", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StartError{Provider: "azure", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(detail))}
	}

	var created struct {
		Self string `json:"self"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", &StartError{Provider: "azure", Err: fmt.Errorf("decode response: %w", err)}
	}
	if created.Self == "" {
		return "", &StartError{Provider: "azure", Err: fmt.Errorf("transcription created without self link")}
	}

	a.log.Info().Str("job", jobName).Str("self", created.Self).Msg("azure batch transcription started")
	return created.Self, nil
}

// PollStatus reads the batch transcription status from its self URL.
func (a *AzureAdapter) PollStatus(ctx context.Context, handle string) (*Status, error) {
	var st struct {
		Status     string `json:"status"`
		Properties struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"properties"`
	}
	if err := a.getJSON(ctx, handle, &st); err != nil {
		return nil, &TransientError{Err: err}
	}

	switch st.Status {
	case "Succeeded":
		return &Status{State: StateSucceeded, ResultLocation: handle + "/files"}, nil
	case "Failed":
		reason := st.Properties.Error.Message
		if reason == "" {
			reason = st.Properties.Error.Code
		}
		if reason == "" {
			reason = "Unknown"
		}
		return &Status{State: StateFailed, FailureReason: reason}, nil
	default:
		return &Status{State: StateRunning}, nil
	}
}

// FetchResult resolves the transcription result file and returns it in
// the canonical Azure wire shape: displayText plus duration in
// 100-nanosecond ticks.
func (a *AzureAdapter) FetchResult(ctx context.Context, location string) (json.RawMessage, error) {
	var files struct {
		Values []struct {
			Kind  string `json:"kind"`
			Links struct {
				ContentURL string `json:"contentUrl"`
			} `json:"links"`
		} `json:"values"`
	}
	if err := a.getJSON(ctx, location, &files); err != nil {
		return nil, fmt.Errorf("list result files: %w", err)
	}

	contentURL := ""
	for _, v := range files.Values {
		if v.Kind == "Transcription" {
			contentURL = v.Links.ContentURL
			break
		}
	}
	if contentURL == "" {
		return nil, fmt.Errorf("no transcription file in result listing")
	}

	var result struct {
		DurationInTicks int64 `json:"durationInTicks"`
		CombinedPhrases []struct {
			Display string `json:"display"`
		} `json:"combinedRecognizedPhrases"`
	}
	if err := a.getJSON(ctx, contentURL, &result); err != nil {
		return nil, fmt.Errorf("download result file: %w", err)
	}

	display := ""
	if len(result.CombinedPhrases) > 0 {
		display = result.CombinedPhrases[0].Display
	}
	return json.Marshal(map[string]any{
		"displayText": display,
		"duration":    result.DurationInTicks,
	})
}

// Cleanup deletes the uploaded blob.
func (a *AzureAdapter) Cleanup(ctx context.Context, remoteURI string) error {
	container, blobName, ok := parseBlobURL(remoteURI)
	if !ok {
		return fmt.Errorf("not a blob url: %q", remoteURI)
	}
	_, err := a.blob.DeleteBlob(ctx, container, blobName, nil)
	return err
}

func (a *AzureAdapter) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.speechKey)

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(detail))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseBlobURL(raw string) (container, blob string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
