package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/speacher/internal/history"
	"github.com/snarg/speacher/internal/jobs"
	"github.com/snarg/speacher/internal/provider"
)

// fakeAdapter scripts one provider run. Poll states are consumed in order;
// the last entry repeats.
type fakeAdapter struct {
	mu         sync.Mutex
	name       string
	uploadErr  error
	startErr   error
	pollStates []pollStep
	pollCalls  int
	rawResult  string
	fetchErr   error
	cleanups   []string
	uploads    []string
	jobNames   []string
	opts       provider.JobOptions
}

type pollStep struct {
	status *provider.Status
	err    error
}

func (f *fakeAdapter) Name() string {
	if f.name == "" {
		return "aws"
	}
	return f.name
}

func (f *fakeAdapter) Upload(_ context.Context, _, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads = append(f.uploads, key)
	return "s3://bucket/" + key, nil
}

func (f *fakeAdapter) StartJob(_ context.Context, jobName, _ string, opts provider.JobOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.jobNames = append(f.jobNames, jobName)
	f.opts = opts
	return "handle-" + jobName, nil
}

func (f *fakeAdapter) PollStatus(_ context.Context, _ string) (*provider.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.pollCalls
	if i >= len(f.pollStates) {
		i = len(f.pollStates) - 1
	}
	f.pollCalls++
	step := f.pollStates[i]
	return step.status, step.err
}

func (f *fakeAdapter) FetchResult(_ context.Context, _ string) (json.RawMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return json.RawMessage(f.rawResult), nil
}

func (f *fakeAdapter) Cleanup(_ context.Context, remoteURI string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, remoteURI)
	return nil
}

func (f *fakeAdapter) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cleanups)
}

type fakeArchive struct {
	mu   sync.Mutex
	rows []*history.Row
}

func (a *fakeArchive) Save(_ context.Context, row *history.Row) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, row)
	return nil
}

func succeeded(location string) pollStep {
	return pollStep{status: &provider.Status{State: provider.StateSucceeded, ResultLocation: location}}
}

func running() pollStep {
	return pollStep{status: &provider.Status{State: provider.StateRunning}}
}

func newTestPipeline(t *testing.T, adapter provider.Adapter, archive Archive, timeout time.Duration) (*Pipeline, *jobs.Store) {
	t.Helper()
	store := jobs.NewStore()
	registry := provider.NewRegistry()
	registry.Register(adapter)
	p := New(Options{
		Store:        store,
		Registry:     registry,
		Archive:      archive,
		PollInterval: 5 * time.Millisecond,
		JobTimeout:   timeout,
		Log:          zerolog.Nop(),
	})
	return p, store
}

func waitTerminal(t *testing.T, store *jobs.Store, jobID string) *jobs.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rec := store.Get(jobID); rec != nil && rec.Status.Terminal() {
			return rec
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

// waitCleanup waits for the deferred remote cleanup, which runs after the
// job record goes terminal.
func waitCleanup(t *testing.T, adapter *fakeAdapter, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return adapter.cleanupCount() >= n
	}, 5*time.Second, time.Millisecond)
}

const awsRaw = `{
	"results": {
		"transcripts": [{"transcript": "hello world"}],
		"items": [
			{"type": "pronunciation", "start_time": "0.0", "end_time": "0.5",
			 "alternatives": [{"content": "hello"}]},
			{"type": "pronunciation", "start_time": "0.6", "end_time": "1.2",
			 "alternatives": [{"content": "world"}]}
		]
	}
}`

func TestPipelineSuccess(t *testing.T) {
	adapter := &fakeAdapter{
		pollStates: []pollStep{running(), succeeded("https://results/job.json")},
		rawResult:  awsRaw,
	}
	archive := &fakeArchive{}
	p, store := newTestPipeline(t, adapter, archive, time.Minute)

	jobID, err := p.Submit(context.Background(), Request{
		OwnerID:  "alice",
		Filename: "meeting.wav",
		Provider: "aws",
		Duration: 60,
	})
	require.NoError(t, err)

	rec := waitTerminal(t, store, jobID)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.Progress)
	assert.Equal(t, "Transcription complete", rec.CurrentStep)
	require.NotNil(t, rec.Duration)
	assert.InDelta(t, 1.2, *rec.Duration, 1e-9)
	assert.InDelta(t, 0.024*1.2/60, rec.CostEstimate, 1e-9)

	waitCleanup(t, adapter, 1)
	assert.Equal(t, "s3://bucket/"+adapter.uploads[0], adapter.cleanups[0])

	require.Len(t, archive.rows, 1)
	assert.Equal(t, jobID, archive.rows[0].ID)
	assert.Equal(t, "hello world", archive.rows[0].Transcript)
	require.Eventually(t, func() bool { return p.Completed() == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int64(0), p.Failed())
}

func TestPipelineInitialState(t *testing.T) {
	adapter := &fakeAdapter{
		pollStates: []pollStep{running()},
	}
	p, store := newTestPipeline(t, adapter, nil, time.Minute)

	jobID, err := p.Submit(context.Background(), Request{
		OwnerID:  "alice",
		Filename: "call.mp3",
		Provider: "aws",
		Duration: 300,
	})
	require.NoError(t, err)

	rec := store.Get(jobID)
	require.NotNil(t, rec)
	assert.Equal(t, "alice", rec.OwnerID)
	assert.Equal(t, "aws", rec.Provider)
	require.NotNil(t, rec.Duration)
	assert.InDelta(t, 300, *rec.Duration, 1e-9)
	assert.InDelta(t, 0.12, rec.CostEstimate, 1e-9)
}

func TestPipelineUnknownProvider(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeAdapter{pollStates: []pollStep{running()}}, nil, time.Minute)

	_, err := p.Submit(context.Background(), Request{Provider: "whisper"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestPipelineUploadFailure(t *testing.T) {
	adapter := &fakeAdapter{
		uploadErr:  &provider.UploadError{Provider: "aws", Err: errors.New("connection refused")},
		pollStates: []pollStep{running()},
	}
	p, store := newTestPipeline(t, adapter, nil, time.Minute)

	jobID, err := p.Submit(context.Background(), Request{Provider: "aws", Duration: 10})
	require.NoError(t, err)

	rec := waitTerminal(t, store, jobID)
	assert.Equal(t, jobs.StatusFailed, rec.Status)
	assert.Equal(t, "Failed to upload media to provider storage", rec.CurrentStep)
	assert.Equal(t, 0, adapter.cleanupCount())
	assert.Equal(t, int64(1), p.Failed())
}

func TestPipelineProviderFailure(t *testing.T) {
	adapter := &fakeAdapter{
		pollStates: []pollStep{
			running(),
			{status: &provider.Status{State: provider.StateFailed, FailureReason: "Unsupported media format"}},
		},
	}
	p, store := newTestPipeline(t, adapter, nil, time.Minute)

	jobID, err := p.Submit(context.Background(), Request{Provider: "aws", Duration: 10})
	require.NoError(t, err)

	rec := waitTerminal(t, store, jobID)
	assert.Equal(t, jobs.StatusFailed, rec.Status)
	assert.Equal(t, "Transcription failed: Unsupported media format", rec.CurrentStep)
	require.Equal(t, 1, adapter.cleanupCount())
}

func TestPipelineTransientPollErrorsRetried(t *testing.T) {
	adapter := &fakeAdapter{
		pollStates: []pollStep{
			{err: &provider.TransientError{Err: errors.New("503")}},
			{err: &provider.TransientError{Err: errors.New("timeout")}},
			succeeded("https://results/job.json"),
		},
		rawResult: `{"displayText": "ok", "duration": 20000000}`,
	}
	p, store := newTestPipeline(t, adapter, nil, time.Minute)

	jobID, err := p.Submit(context.Background(), Request{Provider: "aws", Duration: 2})
	require.NoError(t, err)

	rec := waitTerminal(t, store, jobID)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)
	assert.GreaterOrEqual(t, adapter.pollCalls, 3)
	require.NotNil(t, rec.Duration)
	assert.InDelta(t, 2.0, *rec.Duration, 1e-9)
}

func TestPipelineTimeout(t *testing.T) {
	adapter := &fakeAdapter{
		pollStates: []pollStep{running()},
	}
	p, store := newTestPipeline(t, adapter, nil, 20*time.Millisecond)

	jobID, err := p.Submit(context.Background(), Request{Provider: "aws", Duration: 10})
	require.NoError(t, err)

	rec := waitTerminal(t, store, jobID)
	assert.Equal(t, jobs.StatusFailed, rec.Status)
	assert.Contains(t, rec.CurrentStep, "timed out")
	require.Equal(t, 1, adapter.cleanupCount())
}

func TestPipelineCancellation(t *testing.T) {
	adapter := &fakeAdapter{
		pollStates: []pollStep{running()},
	}
	p, store := newTestPipeline(t, adapter, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	jobID, err := p.Submit(ctx, Request{Provider: "aws", Duration: 10})
	require.NoError(t, err)

	// Let the job reach the polling phase before cancelling.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rec := store.Get(jobID); rec != nil && rec.Status == jobs.StatusProcessing {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	rec := waitTerminal(t, store, jobID)
	assert.Equal(t, jobs.StatusFailed, rec.Status)
	assert.Equal(t, "Cancelled", rec.CurrentStep)
	require.Equal(t, 1, adapter.cleanupCount())
}

func TestPipelineDiarizationOptionsForwarded(t *testing.T) {
	adapter := &fakeAdapter{
		pollStates: []pollStep{succeeded("loc")},
		rawResult:  `{}`,
	}
	p, store := newTestPipeline(t, adapter, nil, time.Minute)

	jobID, err := p.Submit(context.Background(), Request{
		OwnerID:     "bob",
		Filename:    "interview.m4a",
		Provider:    "aws",
		Diarization: true,
		MaxSpeakers: 3,
		Duration:    10,
	})
	require.NoError(t, err)
	waitTerminal(t, store, jobID)

	assert.True(t, adapter.opts.Diarization)
	assert.Equal(t, 3, adapter.opts.MaxSpeakers)
	assert.Equal(t, "mp4", adapter.opts.MediaFormat)
	require.Len(t, adapter.jobNames, 1)
	assert.Contains(t, adapter.jobNames[0], "speacher-")
	require.Len(t, adapter.uploads, 1)
	assert.Contains(t, adapter.uploads[0], "bob/")
	assert.Contains(t, adapter.uploads[0], "interview.m4a")
}

func TestPipelineFetchFailure(t *testing.T) {
	adapter := &fakeAdapter{
		pollStates: []pollStep{succeeded("loc")},
		fetchErr:   errors.New("result expired"),
	}
	p, store := newTestPipeline(t, adapter, nil, time.Minute)

	jobID, err := p.Submit(context.Background(), Request{Provider: "aws", Duration: 10})
	require.NoError(t, err)

	rec := waitTerminal(t, store, jobID)
	assert.Equal(t, jobs.StatusFailed, rec.Status)
	assert.Equal(t, "Transcription failed", rec.CurrentStep)
	require.Equal(t, 1, adapter.cleanupCount())
}
