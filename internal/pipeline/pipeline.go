// Package pipeline drives one transcription request end to end: upload
// the media, start the remote job, poll it to a terminal state, fetch and
// normalize the result, and clean up the uploaded media on every exit path.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/speacher/internal/events"
	"github.com/snarg/speacher/internal/history"
	"github.com/snarg/speacher/internal/jobs"
	"github.com/snarg/speacher/internal/metrics"
	"github.com/snarg/speacher/internal/pricing"
	"github.com/snarg/speacher/internal/provider"
	"github.com/snarg/speacher/internal/transcript"
)

// Archive persists completed transcriptions. Satisfied by *history.Store;
// nil disables archiving.
type Archive interface {
	Save(ctx context.Context, row *history.Row) error
}

// Options configures the pipeline.
type Options struct {
	Store        *jobs.Store
	Registry     *provider.Registry
	Archive      Archive           // optional
	Events       *events.Publisher // optional, nil-safe
	PollInterval time.Duration
	JobTimeout   time.Duration
	Log          zerolog.Logger
}

// Pipeline runs transcription requests. Each submitted request gets its
// own goroutine; the only shared state is the job store.
type Pipeline struct {
	store        *jobs.Store
	registry     *provider.Registry
	archive      Archive
	events       *events.Publisher
	pollInterval time.Duration
	jobTimeout   time.Duration
	log          zerolog.Logger

	completed atomic.Int64
	failed    atomic.Int64
}

// Request describes one transcription submission.
type Request struct {
	OwnerID     string
	LocalPath   string
	Filename    string
	Provider    string
	Language    string
	Diarization bool
	MaxSpeakers int
	Duration    float64 // probed duration in seconds, 0 if unknown
	RemoveLocal bool    // delete LocalPath when the pipeline finishes
}

// Result is handed to the completion callback after a successful run.
type Result struct {
	JobID        string                      `json:"job_id"`
	Transcript   string                      `json:"transcript"`
	Speakers     []transcript.SpeakerSegment `json:"speakers"`
	Duration     float64                     `json:"duration"`
	CostEstimate float64                     `json:"cost_estimate"`
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Hour
	}
	return &Pipeline{
		store:        opts.Store,
		registry:     opts.Registry,
		archive:      opts.Archive,
		events:       opts.Events,
		pollInterval: opts.PollInterval,
		jobTimeout:   opts.JobTimeout,
		log:          opts.Log,
	}
}

// Completed returns the number of successfully finished jobs.
func (p *Pipeline) Completed() int64 { return p.completed.Load() }

// Failed returns the number of failed jobs.
func (p *Pipeline) Failed() int64 { return p.failed.Load() }

// Submit validates the request, creates the job record, and starts the
// pipeline in a new goroutine. ctx should be the process context, not a
// request context: the job outlives the HTTP request that created it.
func (p *Pipeline) Submit(ctx context.Context, req Request) (string, error) {
	if _, err := p.registry.Get(req.Provider); err != nil {
		return "", err
	}

	var dur *float64
	var initialCost float64
	if req.Duration > 0 {
		d := req.Duration
		dur = &d
		initialCost = pricing.Estimate(req.Provider, req.Duration)
	}

	jobID := p.store.Create(jobs.CreateParams{
		OwnerID:     req.OwnerID,
		Filename:    req.Filename,
		Provider:    req.Provider,
		Duration:    dur,
		InitialCost: initialCost,
	})

	metrics.JobsStartedTotal.WithLabelValues(req.Provider).Inc()
	go p.run(ctx, jobID, req)
	return jobID, nil
}

// run executes the full pipeline for one job and records the outcome.
func (p *Pipeline) run(ctx context.Context, jobID string, req Request) {
	start := time.Now()
	log := p.log.With().Str("job_id", jobID).Str("provider", req.Provider).Logger()

	result, err := p.process(ctx, log, jobID, req)
	metrics.JobDurationSeconds.WithLabelValues(req.Provider).Observe(time.Since(start).Seconds())

	if err != nil {
		p.failed.Add(1)
		p.fail(log, jobID, req, err)
		return
	}

	p.completed.Add(1)
	metrics.JobsCompletedTotal.WithLabelValues(req.Provider).Inc()
	log.Info().
		Float64("duration", result.Duration).
		Int("speakers", len(result.Speakers)).
		Float64("cost", result.CostEstimate).
		Msg("transcription complete")
}

func (p *Pipeline) process(ctx context.Context, log zerolog.Logger, jobID string, req Request) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if req.RemoveLocal {
		defer os.Remove(req.LocalPath)
	}

	adapter, err := p.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	cost := pricing.Estimate(req.Provider, req.Duration)

	// 1. Upload media to provider storage.
	p.setProgress(jobID, req, 5, jobs.StatusUploading,
		fmt.Sprintf("Uploading %s to %s", req.Filename, req.Provider), cost, nil)

	key := fmt.Sprintf("%s/%s-%s", req.OwnerID, uuid.NewString(), req.Filename)
	remoteURI, err := adapter.Upload(ctx, req.LocalPath, key)
	if err != nil {
		return nil, err
	}

	// Uploaded media is temporary and must be deleted on every exit path:
	// success, provider failure, timeout, or cancellation. Cleanup gets its
	// own context because the job context may already be dead here.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := adapter.Cleanup(cleanupCtx, remoteURI); err != nil {
			log.Warn().Err(err).Str("uri", remoteURI).Msg("cleanup of remote media failed")
		}
	}()

	// 2. Start the remote transcription job.
	p.setProgress(jobID, req, 25, jobs.StatusQueued, "Transcription job queued", cost, nil)

	jobName := "speacher-" + uuid.NewString()
	opts := provider.JobOptions{
		MediaFormat: provider.MediaFormat(req.Provider, req.Filename),
		Language:    req.Language,
		Diarization: req.Diarization,
		MaxSpeakers: req.MaxSpeakers,
	}
	handle, err := adapter.StartJob(ctx, jobName, remoteURI, opts)
	if err != nil {
		return nil, err
	}

	// 3. Poll to a terminal state.
	p.setProgress(jobID, req, 40, jobs.StatusProcessing, "Waiting for transcription to complete", cost, nil)

	status, err := p.waitForCompletion(ctx, adapter, handle)
	if err != nil {
		return nil, err
	}

	// 4. Fetch and normalize the raw result.
	p.setProgress(jobID, req, 75, jobs.StatusDownloading, "Downloading transcription result", cost, nil)

	raw, err := adapter.FetchResult(ctx, status.ResultLocation)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}

	normalized := transcript.Normalize(raw, req.Diarization)
	duration := normalized.Duration
	if duration == 0 {
		duration = req.Duration
	}
	cost = pricing.Estimate(req.Provider, duration)

	result := &Result{
		JobID:        jobID,
		Transcript:   normalized.Transcript,
		Speakers:     normalized.Speakers,
		Duration:     duration,
		CostEstimate: cost,
	}

	p.archiveResult(log, req, result)
	p.setProgress(jobID, req, 100, jobs.StatusCompleted, "Transcription complete", cost, &duration)
	return result, nil
}

// waitForCompletion polls the provider until the job succeeds, fails, or
// the deadline passes. Transient poll errors only consume interval time.
func (p *Pipeline) waitForCompletion(ctx context.Context, adapter provider.Adapter, handle string) (*provider.Status, error) {
	deadline := time.Now().Add(p.jobTimeout)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		status, err := adapter.PollStatus(ctx, handle)
		switch {
		case err != nil && provider.IsTransient(err):
			metrics.PollAttemptsTotal.WithLabelValues(adapter.Name(), "transient_error").Inc()
		case err != nil:
			return nil, err
		default:
			metrics.PollAttemptsTotal.WithLabelValues(adapter.Name(), string(status.State)).Inc()
			switch status.State {
			case provider.StateSucceeded:
				return status, nil
			case provider.StateFailed:
				return nil, &provider.JobFailedError{Reason: status.FailureReason}
			}
		}

		if time.Now().After(deadline) {
			return nil, &provider.TimeoutError{Timeout: p.jobTimeout}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// fail marks the job FAILED with a step describing what went wrong.
// Cancellation is distinguished from provider-reported failure.
func (p *Pipeline) fail(log zerolog.Logger, jobID string, req Request, err error) {
	step := failureStep(err)
	log.Warn().Err(err).Str("step", step).Msg("transcription failed")
	metrics.JobsFailedTotal.WithLabelValues(req.Provider, failureKind(err)).Inc()

	snap := p.store.Get(jobID)
	progress := 0
	cost := 0.0
	if snap != nil {
		progress = snap.Progress
		cost = snap.CostEstimate
	}
	p.setProgress(jobID, req, progress, jobs.StatusFailed, step, cost, nil)
}

func failureStep(err error) string {
	var (
		uploadErr  *provider.UploadError
		startErr   *provider.StartError
		timeoutErr *provider.TimeoutError
		jobErr     *provider.JobFailedError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	case errors.As(err, &timeoutErr):
		return timeoutErr.Error()
	case errors.As(err, &uploadErr):
		return "Failed to upload media to provider storage"
	case errors.As(err, &startErr):
		return "Provider rejected the transcription job"
	case errors.As(err, &jobErr):
		return "Transcription failed: " + jobErr.Reason
	default:
		return "Transcription failed"
	}
}

func failureKind(err error) string {
	var (
		uploadErr  *provider.UploadError
		startErr   *provider.StartError
		timeoutErr *provider.TimeoutError
		jobErr     *provider.JobFailedError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &uploadErr):
		return "upload"
	case errors.As(err, &startErr):
		return "start"
	case errors.As(err, &jobErr):
		return "provider_failed"
	default:
		return "other"
	}
}

// setProgress writes the job record and mirrors the change to MQTT.
func (p *Pipeline) setProgress(jobID string, req Request, progress int, status jobs.Status, step string, cost float64, duration *float64) {
	err := p.store.Update(jobID, jobs.UpdateParams{
		Progress:     progress,
		Status:       status,
		CurrentStep:  step,
		CostEstimate: cost,
		Duration:     duration,
	})
	if err != nil {
		// Job was deleted mid-flight; nothing left to report against.
		p.log.Debug().Err(err).Str("job_id", jobID).Msg("progress update on missing job")
		return
	}

	p.events.Publish(events.JobEvent{
		JobID:       jobID,
		OwnerID:     req.OwnerID,
		Provider:    req.Provider,
		Status:      string(status),
		Progress:    progress,
		CurrentStep: step,
		Cost:        cost,
	})
}

func (p *Pipeline) archiveResult(log zerolog.Logger, req Request, result *Result) {
	if p.archive == nil {
		return
	}

	speakers, err := json.Marshal(result.Speakers)
	if err != nil {
		log.Error().Err(err).Msg("marshal speakers for archive")
		speakers = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	row := &history.Row{
		ID:           result.JobID,
		OwnerID:      req.OwnerID,
		Filename:     req.Filename,
		Provider:     req.Provider,
		Transcript:   result.Transcript,
		Speakers:     speakers,
		Duration:     result.Duration,
		CostEstimate: result.CostEstimate,
		Language:     req.Language,
		Diarization:  req.Diarization,
		CreatedAt:    time.Now(),
	}
	if err := p.archive.Save(ctx, row); err != nil {
		log.Error().Err(err).Msg("archive transcription failed")
	}
}
