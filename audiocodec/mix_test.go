package audiocodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundMs(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{10000.004, 10000.0},
		{10000.006, 10000.01},
		{0, 0},
		{2999.999, 3000.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, roundMs(tt.in), 1e-9)
	}
}

func TestMix_NoSources(t *testing.T) {
	var sink bytes.Buffer
	_, err := Mix(nil, &sink, 44100)
	require.ErrorIs(t, err, ErrNoDecodableAudio)
}

func TestWaveform_RejectsNonPositiveSegments(t *testing.T) {
	_, err := Waveform("ignored.webm", 0)
	require.Error(t, err)
}
