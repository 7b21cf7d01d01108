package audio

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeTestWAV creates a minimal PCM WAV file with the given duration.
func writeTestWAV(t *testing.T, seconds float64) string {
	t.Helper()

	const sampleRate = 8000
	const bytesPerSample = 2
	byteRate := sampleRate * bytesPerSample
	dataLen := int(seconds * float64(byteRate))

	buf := make([]byte, 0, 44+dataLen)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataLen))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, 1) // mono
	buf = binary.LittleEndian.AppendUint32(buf, sampleRate)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, bytesPerSample)
	buf = binary.LittleEndian.AppendUint16(buf, 16)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataLen))
	buf = append(buf, make([]byte, dataLen)...)

	path := filepath.Join(t.TempDir(), "test.wav")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWAVDuration(t *testing.T) {
	path := writeTestWAV(t, 2.5)
	got, err := wavDuration(path)
	if err != nil {
		t.Fatalf("wavDuration: %v", err)
	}
	if math.Abs(got-2.5) > 0.01 {
		t.Errorf("duration = %f, want 2.5", got)
	}
}

func TestWAVDuration_NotWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.wav")
	if err := os.WriteFile(path, []byte("this is definitely not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wavDuration(path); err == nil {
		t.Error("expected error for non-wav content")
	}
}

func TestDuration_MissingFile(t *testing.T) {
	if _, err := Duration(context.Background(), "/no/such/file.wav"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDuration_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Duration(context.Background(), path); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestValidate(t *testing.T) {
	path := writeTestWAV(t, 2.0)
	ctx := context.Background()

	if _, err := Validate(ctx, path, 0.1, 7200); err != nil {
		t.Errorf("valid file rejected: %v", err)
	}
	if _, err := Validate(ctx, path, 5.0, 7200); err == nil {
		t.Error("expected too-short error")
	}
	if _, err := Validate(ctx, path, 0.1, 1.0); err == nil {
		t.Error("expected too-long error")
	}
}
