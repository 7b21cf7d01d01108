// Package audio probes local media files for duration, used for upfront
// cost estimates and duration validation before submission.
package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ffprobeAvailable caches whether ffprobe is in PATH (checked once).
var ffprobeAvailable *bool

// CheckFFProbe checks if ffprobe is available in PATH.
func CheckFFProbe() bool {
	if ffprobeAvailable != nil {
		return *ffprobeAvailable
	}
	_, err := exec.LookPath("ffprobe")
	avail := err == nil
	ffprobeAvailable = &avail
	return avail
}

// Duration returns the media duration in seconds. It prefers ffprobe and
// falls back to reading WAV headers directly, so WAV uploads still get a
// duration on hosts without ffmpeg installed.
func Duration(ctx context.Context, path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("audio file is empty: %s", path)
	}

	if CheckFFProbe() {
		if d, err := ffprobeDuration(ctx, path); err == nil {
			return d, nil
		}
	}
	return wavDuration(path)
}

// ffprobeDuration shells out to ffprobe for the container duration.
func ffprobeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ffprobe reported non-positive duration %f", d)
	}
	return d, nil
}

// wavDuration computes duration from a RIFF/WAVE header: data chunk size
// divided by the byte rate from the fmt chunk.
func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, fmt.Errorf("read riff header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a wav file: %s", path)
	}

	var byteRate uint32
	chunk := make([]byte, 8)
	for {
		if _, err := io.ReadFull(f, chunk); err != nil {
			return 0, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			fmtChunk := make([]byte, size)
			if _, err := io.ReadFull(f, fmtChunk); err != nil {
				return 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(fmtChunk) < 12 {
				return 0, fmt.Errorf("fmt chunk too short")
			}
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
		case "data":
			if byteRate == 0 {
				return 0, fmt.Errorf("data chunk before fmt chunk")
			}
			return float64(size) / float64(byteRate), nil
		default:
			if _, err := f.Seek(int64(size), 1); err != nil {
				return 0, fmt.Errorf("skip chunk %q: %w", id, err)
			}
		}
	}
}

// Validate checks that the file's duration falls within [min, max]
// seconds. Returns the probed duration alongside any validation error.
func Validate(ctx context.Context, path string, min, max float64) (float64, error) {
	d, err := Duration(ctx, path)
	if err != nil {
		return 0, err
	}
	if d < min {
		return d, fmt.Errorf("audio duration %.2fs is too short, minimum %.2fs", d, min)
	}
	if max > 0 && d > max {
		return d, fmt.Errorf("audio duration %.2fs is too long, maximum %.2fs", d, max)
	}
	return d, nil
}
