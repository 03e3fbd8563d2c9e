package audio

import (
	"context"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"

	"visitnote/internal/wire"
)

// WAVEncoder wraps raw PCM16 in a RIFF container without leaving the process.
type WAVEncoder struct{}

func NewWAVEncoder() *WAVEncoder {
	return &WAVEncoder{}
}

func (WAVEncoder) Encode(_ context.Context, pcm []byte, sampleRate int) ([]byte, string, error) {
	if len(pcm) < 2 {
		return nil, "", errors.New("no audio to encode")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	samples := wire.PCM16ToInt16(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	out := &writerseeker.WriterSeeker{}
	encoder := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	if err := encoder.Write(buffer); err != nil {
		return nil, "", fmt.Errorf("encoder write buffer: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, "", fmt.Errorf("encoder close: %w", err)
	}

	riff, err := io.ReadAll(out.Reader())
	if err != nil {
		return nil, "", fmt.Errorf("reading wav into memory: %w", err)
	}
	return riff, "audio/wav", nil
}
