package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	transcribetypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/rs/zerolog"
)

// AWSConfig holds the credentials and bucket for the AWS adapter.
type AWSConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Endpoint  string // optional, for S3-compatible stores in tests
}

// Configured reports whether enough settings are present to register the adapter.
func (c AWSConfig) Configured() bool {
	return c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

// AWSAdapter transcribes via S3 + AWS Transcribe.
type AWSAdapter struct {
	s3         *s3.Client
	transcribe *transcribe.Client
	bucket     string
	http       *http.Client
	log        zerolog.Logger
}

// NewAWSAdapter creates the AWS adapter from static credentials.
func NewAWSAdapter(cfg AWSConfig, log zerolog.Logger) (*AWSAdapter, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &AWSAdapter{
		s3:         s3.NewFromConfig(awsCfg, s3Opts...),
		transcribe: transcribe.NewFromConfig(awsCfg),
		bucket:     cfg.Bucket,
		http:       &http.Client{Timeout: 60 * time.Second},
		log:        log.With().Str("component", "aws-adapter").Logger(),
	}, nil
}

func (a *AWSAdapter) Name() string { return "aws" }

// Upload puts the local file into the configured S3 bucket and returns
// its s3:// URI.
func (a *AWSAdapter) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", &UploadError{Provider: "aws", Err: err}
	}
	defer f.Close()

	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return "", &UploadError{Provider: "aws", Err: err}
	}

	uri := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	a.log.Info().Str("uri", uri).Msg("media uploaded to s3")
	return uri, nil
}

// StartJob starts an AWS Transcribe job against the uploaded media.
// The job name doubles as the poll handle.
func (a *AWSAdapter) StartJob(ctx context.Context, jobName, mediaURI string, opts JobOptions) (string, error) {
	input := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		Media:                &transcribetypes.Media{MediaFileUri: aws.String(mediaURI)},
		MediaFormat:          transcribetypes.MediaFormat(opts.MediaFormat),
		LanguageCode:         transcribetypes.LanguageCode(opts.Language),
	}
	if opts.Diarization && opts.MaxSpeakers > 0 {
		input.Settings = &transcribetypes.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int32(int32(opts.MaxSpeakers)),
		}
	}

	if _, err := a.transcribe.StartTranscriptionJob(ctx, input); err != nil {
		return "", &StartError{Provider: "aws", Err: err}
	}

	a.log.Info().Str("job", jobName).Str("format", opts.MediaFormat).Str("language", opts.Language).Msg("aws transcribe job started")
	return jobName, nil
}

// PollStatus reads the Transcribe job state. On success the transcript
// file URI becomes the result location.
func (a *AWSAdapter) PollStatus(ctx context.Context, handle string) (*Status, error) {
	out, err := a.transcribe.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(handle),
	})
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	job := out.TranscriptionJob
	switch job.TranscriptionJobStatus {
	case transcribetypes.TranscriptionJobStatusCompleted:
		st := &Status{State: StateSucceeded}
		if job.Transcript != nil && job.Transcript.TranscriptFileUri != nil {
			st.ResultLocation = *job.Transcript.TranscriptFileUri
		}
		return st, nil
	case transcribetypes.TranscriptionJobStatusFailed:
		reason := "Unknown"
		if job.FailureReason != nil {
			reason = *job.FailureReason
		}
		return &Status{State: StateFailed, FailureReason: reason}, nil
	default:
		return &Status{State: StateRunning}, nil
	}
}

// FetchResult downloads the transcript JSON. Transcribe hands out a
// presigned HTTPS URL, so this is a plain GET.
func (a *AWSAdapter) FetchResult(ctx context.Context, location string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("download transcript: status %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return json.RawMessage(data), nil
}

// Cleanup deletes the uploaded media object from S3.
func (a *AWSAdapter) Cleanup(ctx context.Context, remoteURI string) error {
	bucket, key, ok := parseS3URI(remoteURI)
	if !ok {
		return fmt.Errorf("not an s3 uri: %q", remoteURI)
	}
	_, err := a.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	return err
}

func parseS3URI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
