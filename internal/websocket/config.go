package websocket

import "github.com/raihanakbr/consult-roles/internal/config"

// chunking holds the PCM chunk bounds derived from the audio configuration.
type chunking struct {
	bytesPerSecond int
	minSize        int
	maxSize        int
}

func newChunking(cfg *config.Root) chunking {
	bps := config.BytesPerSecond(cfg.AssemblyAI.SampleRate)
	return chunking{
		bytesPerSecond: bps,
		minSize:        evenBytes(cfg.Audio.MinChunkMs * bps / 1000),
		maxSize:        evenBytes(cfg.Audio.MaxChunkMs * bps / 1000),
	}
}

func (c chunking) durationMs(size int) float64 {
	return float64(size) / float64(c.bytesPerSecond) * 1000
}

// evenBytes rounds down so a chunk never splits a 16-bit sample.
func evenBytes(n int) int { return (n / 2) * 2 }
