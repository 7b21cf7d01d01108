// Package transcript converts raw provider transcription payloads into a
// single canonical result shape with optional speaker attribution.
package transcript

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Azure reports duration in 100-nanosecond ticks.
const azureTicksPerSecond = 10_000_000

// Result is the canonical transcription result.
type Result struct {
	Transcript string           `json:"transcript"`
	Speakers   []SpeakerSegment `json:"speakers"`
	Duration   float64          `json:"duration"`
}

// SpeakerSegment is one block of text attributed to a single speaker.
type SpeakerSegment struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// awsItem is one timed token from a word-item based payload. Times are
// decimal strings on the wire; punctuation items carry no timing.
type awsItem struct {
	Type         string `json:"type"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Alternatives []struct {
		Content string `json:"content"`
	} `json:"alternatives"`
}

func (it awsItem) content() string {
	if len(it.Alternatives) == 0 {
		return ""
	}
	return it.Alternatives[0].Content
}

// awsSpeakerSegment is one diarization segment from a word-item based payload.
type awsSpeakerSegment struct {
	SpeakerLabel string `json:"speaker_label"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

type awsResults struct {
	Transcripts []struct {
		Transcript string `json:"transcript"`
	} `json:"transcripts"`
	Items         []awsItem `json:"items"`
	SpeakerLabels *struct {
		Segments []awsSpeakerSegment `json:"segments"`
	} `json:"speaker_labels"`
}

// Normalize maps a raw provider payload into a Result. Three payload
// shapes are recognized: word-item based (AWS Transcribe), display-text
// with tick duration (Azure Speech), and list-of-results with
// alternatives (GCP Speech). Anything else, including an empty payload,
// yields a zeroed result rather than an error.
func Normalize(raw json.RawMessage, diarizationEnabled bool) Result {
	result := Result{Speakers: []SpeakerSegment{}}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return result
	}

	var probe struct {
		Results     json.RawMessage `json:"results"`
		DisplayText *string         `json:"displayText"`
		Duration    *float64        `json:"duration"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return result
	}

	switch {
	case isJSONObject(probe.Results):
		normalizeWordItems(&result, probe.Results, diarizationEnabled)
	case probe.DisplayText != nil:
		result.Transcript = *probe.DisplayText
		if probe.Duration != nil {
			result.Duration = *probe.Duration / azureTicksPerSecond
		}
	case isJSONArray(probe.Results):
		normalizeAlternativeList(&result, probe.Results)
	}
	return result
}

// normalizeWordItems handles the word-item based shape: per-sentence
// transcript alternatives when present, otherwise the transcript is
// rebuilt from pronunciation items.
func normalizeWordItems(result *Result, rawResults json.RawMessage, diarizationEnabled bool) {
	var res awsResults
	if err := json.Unmarshal(rawResults, &res); err != nil {
		return
	}

	if len(res.Transcripts) > 0 {
		result.Transcript = res.Transcripts[0].Transcript
	} else if len(res.Items) > 0 {
		var words []string
		for _, it := range res.Items {
			if it.Type == "pronunciation" {
				words = append(words, it.content())
			}
		}
		result.Transcript = strings.Join(words, " ")
	}

	if diarizationEnabled && res.SpeakerLabels != nil && len(res.SpeakerLabels.Segments) > 0 {
		result.Speakers = AssignSpeakers(res.SpeakerLabels.Segments, res.Items)
	}

	// Duration comes from the last timed item.
	for i := len(res.Items) - 1; i >= 0; i-- {
		if end, err := strconv.ParseFloat(res.Items[i].EndTime, 64); err == nil {
			result.Duration = end
			break
		}
	}
}

// normalizeAlternativeList handles the list-of-results shape: the first
// alternative of every entry, space-joined.
func normalizeAlternativeList(result *Result, rawResults json.RawMessage) {
	var entries []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	}
	if err := json.Unmarshal(rawResults, &entries); err != nil {
		return
	}

	var parts []string
	for _, e := range entries {
		if len(e.Alternatives) > 0 {
			parts = append(parts, e.Alternatives[0].Transcript)
		}
	}
	result.Transcript = strings.Join(parts, " ")
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func isJSONArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
