package anyspoof

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/unixpickle/essentials"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

var errNotWAV = errors.New("not a RIFF/WAVE stream")

type wavFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// ReadWAV decodes the first channel of a WAV stream into
// samples in [-1, 1].
//
// Supported encodings are 8, 16, 24 and 32-bit PCM and
// 32-bit IEEE float.
func ReadWAV(r io.Reader) (samples []float64, sampleRate int, err error) {
	samples, sampleRate, err = readWAV(r)
	if err != nil {
		return nil, 0, essentials.AddCtx("read WAV", err)
	}
	return
}

func readWAV(r io.Reader) ([]float64, int, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, err
	}
	if string(header[:4]) != "RIFF" || string(header[8:]) != "WAVE" {
		return nil, 0, errNotWAV
	}

	var format *wavFormat
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if err == io.EOF {
				return nil, 0, errors.New("missing data chunk")
			}
			return nil, 0, err
		}
		id := string(chunkHeader[:4])
		size := int64(binary.LittleEndian.Uint32(chunkHeader[4:]))
		switch id {
		case "fmt ":
			format = &wavFormat{}
			if size < 16 {
				return nil, 0, fmt.Errorf("fmt chunk too small: %d", size)
			}
			if err := binary.Read(r, binary.LittleEndian, format); err != nil {
				return nil, 0, err
			}
			if err := skip(r, size-16+size%2); err != nil {
				return nil, 0, err
			}
		case "data":
			if format == nil {
				return nil, 0, errors.New("data chunk before fmt chunk")
			}
			samples, err := decodeSamples(io.LimitReader(r, size), format)
			return samples, int(format.SampleRate), err
		default:
			if err := skip(r, size+size%2); err != nil {
				return nil, 0, err
			}
		}
	}
}

// ReadWAVFile decodes a WAV file with ReadWAV.
func ReadWAVFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	samples, _, err := ReadWAV(bufio.NewReader(f))
	if err != nil {
		return nil, essentials.AddCtx(path, err)
	}
	return samples, nil
}

// WriteWAV encodes mono samples as 16-bit PCM.
// Samples are clipped to [-1, 1].
func WriteWAV(w io.Writer, samples []float64, sampleRate int) error {
	dataSize := uint32(len(samples) * 2)
	header := struct {
		RIFF     [4]byte
		Size     uint32
		WAVE     [4]byte
		FmtID    [4]byte
		FmtSize  uint32
		Format   wavFormat
		DataID   [4]byte
		DataSize uint32
	}{
		RIFF:    [4]byte{'R', 'I', 'F', 'F'},
		Size:    36 + dataSize,
		WAVE:    [4]byte{'W', 'A', 'V', 'E'},
		FmtID:   [4]byte{'f', 'm', 't', ' '},
		FmtSize: 16,
		Format: wavFormat{
			AudioFormat:   wavFormatPCM,
			NumChannels:   1,
			SampleRate:    uint32(sampleRate),
			ByteRate:      uint32(sampleRate * 2),
			BlockAlign:    2,
			BitsPerSample: 16,
		},
		DataID:   [4]byte{'d', 'a', 't', 'a'},
		DataSize: dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return essentials.AddCtx("write WAV", err)
	}
	data := make([]int16, len(samples))
	for i, x := range samples {
		x = math.Max(-1, math.Min(1, x))
		data[i] = int16(math.Round(x * math.MaxInt16))
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return essentials.AddCtx("write WAV", err)
	}
	return nil
}

func decodeSamples(r io.Reader, format *wavFormat) ([]float64, error) {
	if format.NumChannels == 0 {
		return nil, errors.New("zero channels")
	}
	bytesPerSample := int(format.BitsPerSample) / 8
	frameSize := bytesPerSample * int(format.NumChannels)
	switch {
	case format.AudioFormat == wavFormatPCM && bytesPerSample >= 1 && bytesPerSample <= 4:
	case format.AudioFormat == wavFormatFloat && bytesPerSample == 4:
	default:
		return nil, fmt.Errorf("unsupported encoding: format %d with %d bits",
			format.AudioFormat, format.BitsPerSample)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	res := make([]float64, 0, len(data)/frameSize)
	for i := 0; i+frameSize <= len(data); i += frameSize {
		res = append(res, decodeSample(data[i:i+bytesPerSample], format.AudioFormat))
	}
	return res, nil
}

func decodeSample(b []byte, audioFormat uint16) float64 {
	if audioFormat == wavFormatFloat {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	switch len(b) {
	case 1:
		return (float64(b[0]) - 128) / 128
	case 2:
		return float64(int16(binary.LittleEndian.Uint16(b))) / (1 << 15)
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return float64(v) / (1 << 23)
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / (1 << 31)
	}
}

func skip(r io.Reader, n int64) error {
	_, err := io.CopyN(io.Discard, r, n)
	return err
}
