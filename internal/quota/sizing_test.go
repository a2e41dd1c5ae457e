package quota

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioTokens(t *testing.T) {
	tests := []struct {
		name       string
		bytes      int
		sampleRate int
		channels   int
		want       int64
	}{
		{"two seconds mono 24k", 2 * 24000 * 2, 24000, 1, 64},
		{"defaults applied", 2 * 24000 * 2, 0, 0, 64},
		{"partial second rounds up", 1000, 24000, 1, 1},
		{"stereo halves duration", 2 * 24000 * 2, 24000, 2, 32},
		{"empty chunk", 0, 24000, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AudioTokens(tt.bytes, tt.sampleRate, tt.channels))
		})
	}
}

func TestAudioMillis(t *testing.T) {
	assert.Equal(t, int64(2000), AudioMillis(96000, 24000, 1))
	assert.Equal(t, int64(100), AudioMillis(4800, 24000, 1))
	assert.Equal(t, int64(1), AudioMillis(10, 24000, 1))
	assert.Equal(t, int64(1000), AudioMillis(96000, 24000, 2))
	assert.Equal(t, int64(0), AudioMillis(0, 24000, 1))
}

func TestAudioMillis_ShortChunksAddUp(t *testing.T) {
	var total int64
	for i := 0; i < 10; i++ {
		total += AudioMillis(4800, 24000, 1)
	}
	assert.Equal(t, int64(1000), total)
}

func TestUnitTokens(t *testing.T) {
	assert.Equal(t, int64(32), UnitTokens(domain.DimensionAudio, 1000))
	assert.Equal(t, int64(1920), UnitTokens(domain.DimensionAudio, MillisPerMinute))
	assert.Equal(t, int64(4), UnitTokens(domain.DimensionAudio, 100))
	assert.Equal(t, int64(3), UnitTokens(domain.DimensionInteraction, 3))
}

func TestImageTokens(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          int64
	}{
		{"small image", 300, 300, 258},
		{"boundary", 384, 384, 258},
		{"one axis over", 385, 100, 258},
		{"four tiles", 1000, 1000, 1032},
		{"default dimensions", 0, 0, 3 * 2 * 258},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ImageTokens(tt.width, tt.height))
		})
	}
}

func TestImageSize(t *testing.T) {
	t.Run("png header", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 300, 200))))

		w, h := ImageSize(buf.Bytes())
		assert.Equal(t, 300, w)
		assert.Equal(t, 200, h)
	})

	t.Run("unknown format", func(t *testing.T) {
		w, h := ImageSize([]byte("not an image"))
		assert.Equal(t, DefaultImageWidth, w)
		assert.Equal(t, DefaultImageHeight, h)
	})
}

func TestTextTokens(t *testing.T) {
	assert.Equal(t, int64(10), TextTokens(strings.Repeat("a", 37)))
	assert.Equal(t, int64(1), TextTokens("hey"))
	assert.Equal(t, int64(0), TextTokens(""))
}
