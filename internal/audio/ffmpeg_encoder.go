package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFMPEGEncoder compresses raw PCM16 into webm/opus through an ffmpeg child process.
type FFMPEGEncoder struct {
	command string
	bitrate int
}

func NewFFMPEGEncoder(command string, bitrate int) *FFMPEGEncoder {
	if command == "" {
		command = "ffmpeg"
	}
	if bitrate <= 0 {
		bitrate = 16000
	}
	return &FFMPEGEncoder{command: command, bitrate: bitrate}
}

func (e *FFMPEGEncoder) Encode(ctx context.Context, pcm []byte, sampleRate int) ([]byte, string, error) {
	if len(pcm) == 0 {
		return nil, "", errors.New("no audio to encode")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
		"-c:a", "libopus",
		"-b:a", strconv.Itoa(e.bitrate),
		"-f", "webm",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, e.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(pcm)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("failed to encode recording: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, "", errors.New("encoder produced no output")
	}
	return stdout.Bytes(), "audio/webm", nil
}
