package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// State is the remote job state reported by a provider.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// JobOptions are the per-job parameters passed to StartJob.
type JobOptions struct {
	MediaFormat string // provider-native container name, see MediaFormat
	Language    string // BCP-47 / provider language code
	Diarization bool
	MaxSpeakers int
}

// Status is one poll observation of a remote transcription job.
type Status struct {
	State          State
	FailureReason  string // set when State == StateFailed
	ResultLocation string // where FetchResult should read from, provider-specific
}

// Adapter is the uniform contract over one external transcription service:
// upload media, start the remote job, poll it, fetch the raw result, and
// delete the uploaded media. Raw results keep their provider-native JSON
// shape; normalization happens downstream.
type Adapter interface {
	Name() string

	// Upload copies a local file to the provider's storage and returns the
	// remote URI. Failures are returned as *UploadError.
	Upload(ctx context.Context, localPath, key string) (string, error)

	// StartJob submits a transcription job for previously uploaded media
	// and returns an opaque job handle. Failures are *StartError.
	StartJob(ctx context.Context, jobName, mediaURI string, opts JobOptions) (string, error)

	// PollStatus reports the current state of a started job. Transport
	// blips are returned as *TransientError so the caller can retry.
	PollStatus(ctx context.Context, handle string) (*Status, error)

	// FetchResult downloads the raw provider result from the location
	// reported by a succeeded poll.
	FetchResult(ctx context.Context, location string) (json.RawMessage, error)

	// Cleanup deletes the uploaded media object. Best effort: the caller
	// logs and swallows any error.
	Cleanup(ctx context.Context, remoteURI string) error
}

// Registry holds the configured adapters keyed by provider name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return a, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
