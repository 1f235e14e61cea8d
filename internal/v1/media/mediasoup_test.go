package media

import (
	"testing"

	"github.com/jiyeyuran/mediasoup-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMediaCodecs(t *testing.T) {
	codecs := defaultMediaCodecs()

	byMime := make(map[string]*mediasoup.RtpCodecCapability, len(codecs))
	for _, c := range codecs {
		byMime[c.MimeType] = c
	}

	t.Run("opus is stereo at 48kHz", func(t *testing.T) {
		opus, ok := byMime["audio/opus"]
		require.True(t, ok)
		assert.Equal(t, mediasoup.MediaKind_Audio, opus.Kind)
		assert.EqualValues(t, 48000, opus.ClockRate)
		assert.EqualValues(t, 2, opus.Channels)
	})

	t.Run("video codecs run at 90kHz", func(t *testing.T) {
		for _, mime := range []string{"video/VP8", "video/VP9", "video/H264"} {
			c, ok := byMime[mime]
			require.True(t, ok, mime)
			assert.Equal(t, mediasoup.MediaKind_Video, c.Kind)
			assert.EqualValues(t, 90000, c.ClockRate)
		}
	})

	t.Run("h264 advertises baseline with packetization mode 1", func(t *testing.T) {
		c, ok := byMime["video/H264"]
		require.True(t, ok)
		assert.Equal(t, "42e01f", c.Parameters.ProfileLevelId)
		assert.EqualValues(t, 1, c.Parameters.PacketizationMode)
		assert.EqualValues(t, 1, c.Parameters.LevelAsymmetryAllowed)
	})
}
