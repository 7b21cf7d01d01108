package provider

import (
	"path/filepath"
	"strings"
)

// awsMediaFormats maps file extensions to the container names AWS
// Transcribe accepts. Notably m4a is not accepted and must be submitted
// as mp4.
var awsMediaFormats = map[string]string{
	"mp3":  "mp3",
	"mp4":  "mp4",
	"m4a":  "mp4",
	"wav":  "wav",
	"flac": "flac",
	"ogg":  "ogg",
	"amr":  "amr",
	"webm": "webm",
}

// MediaFormat translates a filename into the media format string for the
// named provider. Unknown extensions are passed through lowercased; the
// provider rejects them at job start with its own diagnostic.
func MediaFormat(providerName, filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if providerName == "aws" {
		if f, ok := awsMediaFormats[ext]; ok {
			return f
		}
	}
	return ext
}
