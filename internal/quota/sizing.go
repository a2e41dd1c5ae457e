package quota

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"unicode/utf8"

	"github.com/Rrens/live-assist/internal/domain"
)

const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1

	bytesPerSample       = 2
	audioTokensPerSecond = 32
	millisPerSecond      = 1000
	MillisPerMinute      = 60 * millisPerSecond

	smallImageMax      = 384
	imageTileSize      = 768
	tokensPerImageTile = 258

	DefaultImageWidth  = 1920
	DefaultImageHeight = 1080
)

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func audioFrameBytes(sampleRate, channels int) int64 {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}
	return int64(sampleRate) * int64(channels) * bytesPerSample
}

// AudioTokens sizes a raw 16-bit PCM chunk as ceil(durationSeconds * 32).
// Zero sampleRate or channels fall back to 24kHz mono.
func AudioTokens(byteLen, sampleRate, channels int) int64 {
	return ceilDiv(int64(byteLen)*audioTokensPerSecond, audioFrameBytes(sampleRate, channels))
}

// AudioMillis is the duration charged against the monthly audio counter,
// rounded up to the millisecond so short realtime chunks add up to their
// real length.
func AudioMillis(byteLen, sampleRate, channels int) int64 {
	return ceilDiv(int64(byteLen)*millisPerSecond, audioFrameBytes(sampleRate, channels))
}

// UnitTokens converts an amount in counter units to its token-equivalent
// for the per-minute window. Audio counters are in milliseconds.
func UnitTokens(d domain.Dimension, amount int64) int64 {
	if d == domain.DimensionAudio {
		return ceilDiv(amount*audioTokensPerSecond, millisPerSecond)
	}
	return amount
}

// ImageTokens returns 258 for images that fit in 384x384 and 258 per
// 768x768 tile otherwise.
func ImageTokens(width, height int) int64 {
	if width <= 0 || height <= 0 {
		width, height = DefaultImageWidth, DefaultImageHeight
	}
	if width <= smallImageMax && height <= smallImageMax {
		return tokensPerImageTile
	}
	tiles := ceilDiv(int64(width), imageTileSize) * ceilDiv(int64(height), imageTileSize)
	return tiles * tokensPerImageTile
}

// ImageSize reads dimensions from the image header, defaulting to 1920x1080
// when the format is not recognized.
func ImageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return DefaultImageWidth, DefaultImageHeight
	}
	return cfg.Width, cfg.Height
}

// TextTokens returns ceil(characters / 4).
func TextTokens(s string) int64 {
	return ceilDiv(int64(utf8.RuneCountInString(s)), 4)
}
