package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"visitnote/internal/domain"
)

var mimeByExtension = map[string]string{
	".webm": "audio/webm",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".flac": "audio/flac",
}

// ReadRecordingFile loads an existing recording. An empty mimeType is inferred from the extension.
func ReadRecordingFile(path string, mimeType string) (*domain.Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	if mimeType = strings.TrimSpace(mimeType); mimeType == "" {
		mimeType = MIMETypeFor(path)
	}
	return &domain.Recording{Data: data, MIMEType: mimeType}, nil
}

// MIMETypeFor guesses an audio MIME type from a file name, defaulting to audio/webm.
func MIMETypeFor(path string) string {
	if mimeType, ok := mimeByExtension[strings.ToLower(filepath.Ext(path))]; ok {
		return mimeType
	}
	return "audio/webm"
}
