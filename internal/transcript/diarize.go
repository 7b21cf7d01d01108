package transcript

import (
	"strconv"
	"strings"
)

// timedWord is a pronunciation item with any immediately following
// punctuation already attached.
type timedWord struct {
	text  string
	start float64
	end   float64
}

// AssignSpeakers groups timed word items into per-speaker text blocks
// using the provider's diarization segment boundaries.
//
// A word belongs to a segment only when its whole interval lies inside
// the segment's interval. A word that straddles a boundary between two
// adjacent segments therefore belongs to neither; this mirrors the
// provider's own segment/item alignment and slightly under-counts words
// near boundaries.
//
// Punctuation items carry no useful timing of their own and are merged
// onto the preceding word in a single forward pass, so "hello" followed
// by "," yields "hello," with no separating space.
//
// If the item timing cannot be parsed, speaker structure is still
// preserved: one segment per provider segment with empty text and the
// original boundaries.
func AssignSpeakers(segments []awsSpeakerSegment, items []awsItem) []SpeakerSegment {
	words, ok := mergeWords(items)
	if !ok {
		return fallbackSegments(segments)
	}

	var out []SpeakerSegment
	for _, seg := range segments {
		segStart, err1 := strconv.ParseFloat(seg.StartTime, 64)
		segEnd, err2 := strconv.ParseFloat(seg.EndTime, 64)
		if err1 != nil || err2 != nil {
			return fallbackSegments(segments)
		}

		var parts []string
		for _, w := range words {
			if segStart <= w.start && w.end <= segEnd {
				parts = append(parts, w.text)
			}
		}

		text := collapseSpaces(strings.Join(parts, " "))
		if text == "" {
			continue
		}
		out = append(out, SpeakerSegment{
			Speaker:   speakerName(seg.SpeakerLabel),
			Text:      text,
			StartTime: segStart,
			EndTime:   segEnd,
		})
	}
	return out
}

// mergeWords walks the flat, time-ordered item list once, parsing
// pronunciation timings and appending any directly following punctuation
// item to the previous word. Returns false when a pronunciation item has
// unparseable timing.
func mergeWords(items []awsItem) ([]timedWord, bool) {
	var words []timedWord
	for i := 0; i < len(items); i++ {
		it := items[i]
		if it.Type != "pronunciation" {
			continue
		}

		start, err1 := strconv.ParseFloat(it.StartTime, 64)
		end, err2 := strconv.ParseFloat(it.EndTime, 64)
		if err1 != nil || err2 != nil {
			return nil, false
		}

		text := it.content()
		if i+1 < len(items) && items[i+1].Type == "punctuation" {
			text += items[i+1].content()
		}
		words = append(words, timedWord{text: text, start: start, end: end})
	}
	return words, true
}

// fallbackSegments preserves diarization structure when text assembly
// fails: empty text, original timing.
func fallbackSegments(segments []awsSpeakerSegment) []SpeakerSegment {
	out := make([]SpeakerSegment, 0, len(segments))
	for _, seg := range segments {
		start, _ := strconv.ParseFloat(seg.StartTime, 64)
		end, _ := strconv.ParseFloat(seg.EndTime, 64)
		out = append(out, SpeakerSegment{
			Speaker:   speakerName(seg.SpeakerLabel),
			Text:      "",
			StartTime: start,
			EndTime:   end,
		})
	}
	return out
}

func speakerName(label string) string {
	if label == "" {
		label = "Unknown"
	}
	return "Speaker " + label
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
