package audio

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"visitnote/internal/wire"
)

func TestWAVEncoderRoundTrip(t *testing.T) {
	t.Parallel()

	pcm := wire.Float32ToPCM16([]float32{0, 0.25, -0.25, 0.5, -0.5, 0})
	data, mimeType, err := NewWAVEncoder().Encode(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if mimeType != "audio/wav" {
		t.Fatalf("unexpected mime type %q", mimeType)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("expected RIFF header, got %q", data[:4])
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoder.SampleRate != 16000 || decoder.NumChans != 1 {
		t.Fatalf("unexpected format: rate=%d chans=%d", decoder.SampleRate, decoder.NumChans)
	}
	want := wire.PCM16ToInt16(pcm)
	if len(buf.Data) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(buf.Data))
	}
	for i := range want {
		if buf.Data[i] != int(want[i]) {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], buf.Data[i])
		}
	}
}

func TestWAVEncoderRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	if _, _, err := NewWAVEncoder().Encode(context.Background(), nil, 16000); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestFFMPEGEncoderPipesThroughCommand(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "encode.sh", "#!/usr/bin/env bash\nprintf 'args:%s\\n' \"$*\" 1>&2\ncat\n")
	pcm := []byte{1, 2, 3, 4}

	data, mimeType, err := NewFFMPEGEncoder(script, 0).Encode(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if mimeType != "audio/webm" {
		t.Fatalf("unexpected mime type %q", mimeType)
	}
	if !bytes.Equal(data, pcm) {
		t.Fatalf("expected stdin to be piped through, got %v", data)
	}
}

func TestFFMPEGEncoderSurfacesStderr(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "encode.sh", "#!/usr/bin/env bash\necho 'Unknown encoder libopus' 1>&2\nexit 1\n")
	_, _, err := NewFFMPEGEncoder(script, 16000).Encode(context.Background(), []byte{0, 0}, 16000)
	if err == nil {
		t.Fatalf("expected encode error")
	}
	if !strings.Contains(err.Error(), "Unknown encoder libopus") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}
