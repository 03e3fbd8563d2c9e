package usecase

import (
	"visitnote/internal/domain"
	"visitnote/internal/wire"
)

const (
	levelBarCount = 32
	levelMaxBar   = 127
)

// computeLevels splits a PCM16 chunk into levelBarCount segments and scales each segment's peak to 0..127.
func computeLevels(pcm []byte) []domain.LevelBar {
	samples := wire.PCM16ToInt16(pcm)
	bars := make([]domain.LevelBar, levelBarCount)
	if len(samples) == 0 {
		for i := range bars {
			bars[i] = domain.LevelBar{Tier: domain.LevelLow}
		}
		return bars
	}

	for i := range bars {
		start := i * len(samples) / levelBarCount
		end := (i + 1) * len(samples) / levelBarCount
		peak := 0
		for _, s := range samples[start:end] {
			v := int(s)
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
		height := peak * levelMaxBar / 32768
		bars[i] = domain.LevelBar{Height: height, Tier: tierFor(height)}
	}
	return bars
}

func tierFor(height int) domain.LevelTier {
	switch {
	case height > 80:
		return domain.LevelHigh
	case height > 40:
		return domain.LevelMid
	default:
		return domain.LevelLow
	}
}
