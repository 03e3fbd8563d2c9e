package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadRecordingFileInfersMIMEType(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "visit.WAV")
	if err := os.WriteFile(path, []byte("RIFF"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	rec, err := ReadRecordingFile(path, "")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if rec.MIMEType != "audio/wav" || string(rec.Data) != "RIFF" {
		t.Fatalf("unexpected recording: %+v", rec)
	}

	rec, err = ReadRecordingFile(path, "audio/x-custom")
	if err != nil || rec.MIMEType != "audio/x-custom" {
		t.Fatalf("explicit mime type should win: %+v, %v", rec, err)
	}
}

func TestReadRecordingFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := ReadRecordingFile(filepath.Join(t.TempDir(), "nope.webm"), ""); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestMIMETypeForDefaultsToWebM(t *testing.T) {
	t.Parallel()

	if got := MIMETypeFor("note.bin"); got != "audio/webm" {
		t.Fatalf("unexpected default: %q", got)
	}
	if got := MIMETypeFor("a.m4a"); got != "audio/mp4" {
		t.Fatalf("unexpected m4a mapping: %q", got)
	}
}
