package anyspoof

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWAVRoundTrip(t *testing.T) {
	samples := []float64{0, 0.5, -0.5, 1, -1, 0.25, 2}
	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, samples, 16000))

	decoded, rate, err := ReadWAV(&buf)
	require.NoError(t, err)
	require.Equal(t, 16000, rate)
	require.Len(t, decoded, len(samples))
	for i, x := range samples {
		x = math.Max(-1, math.Min(1, x))
		require.InDelta(t, x, decoded[i], 1e-4, "sample %d", i)
	}
}

func TestReadWAVStereoFloat(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WAVE")

	// An unknown chunk with odd size must be skipped with
	// its padding byte.
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{1, 2, 3, 0})

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, wavFormat{
		AudioFormat:   wavFormatFloat,
		NumChannels:   2,
		SampleRate:    8000,
		ByteRate:      8000 * 8,
		BlockAlign:    8,
		BitsPerSample: 32,
	})
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, []float32{0.25, 9, -0.75, 9})

	decoded, rate, err := ReadWAV(&buf)
	require.NoError(t, err)
	require.Equal(t, 8000, rate)
	require.Equal(t, []float64{0.25, -0.75}, decoded)
}

func TestReadWAVErrors(t *testing.T) {
	_, _, err := ReadWAV(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00AVI ")))
	require.Error(t, err)

	_, _, err = ReadWAV(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00WAVE")))
	require.Error(t, err)
}
