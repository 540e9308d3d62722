// Package audio encodes backend sample buffers into the container formats the
// service can return.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/tts-stream-service/internal/core"
)

// Format represents supported audio formats.
type Format string

// Supported formats.
const (
	FormatWAV Format = "wav"
	FormatPCM Format = "pcm"
)

const (
	bitDepth       = 16
	bytesPerSample = bitDepth / 8
	monoChannels   = 1
	wavHeaderSize  = 44
	riffChunkStart = 8
	fmtChunkSize   = 16
	pcmFormatTag   = 1
	// Streaming WAV output does not know its final length up front.
	unknownLength = 0xFFFFFFFF
)

var (
	// ErrUnsupportedFormat is returned for formats without an encoder.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrEncoderClosed is returned when Encode is called after Close.
	ErrEncoderClosed = errors.New("encoder is closed")
)

var contentTypes = map[Format]string{
	FormatWAV: "audio/wav",
	FormatPCM: "audio/pcm",
}

// ParseFormat normalizes name and reports whether it can be encoded.
func ParseFormat(name string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := contentTypes[format]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}

	return format, nil
}

// SupportedFormats lists the formats with an encoder.
func SupportedFormats() []Format {
	return []Format{FormatWAV, FormatPCM}
}

// ContentType returns the MIME type served for format.
func (f Format) ContentType() string {
	if contentType, ok := contentTypes[f]; ok {
		return contentType
	}

	return "audio/" + string(f)
}

// NewEncoder returns a streaming encoder for format at sampleRate.
func NewEncoder(format Format, sampleRate int) (core.Encoder, error) {
	switch format {
	case FormatWAV:
		return &wavEncoder{sampleRate: sampleRate, closed: false}, nil
	case FormatPCM:
		return &pcmEncoder{closed: false}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

type pcmEncoder struct {
	closed bool
}

func (e *pcmEncoder) Encode(chunk core.AudioChunk, _, _ bool) ([]byte, error) {
	if e.closed {
		return nil, ErrEncoderClosed
	}

	return samplesToBytes(nil, chunk.Samples), nil
}

func (e *pcmEncoder) Close() error {
	e.closed = true

	return nil
}

// wavEncoder writes a RIFF header with unknown lengths on the first call and raw
// little-endian samples afterwards.
type wavEncoder struct {
	sampleRate int
	closed     bool
}

func (e *wavEncoder) Encode(chunk core.AudioChunk, isFirst, _ bool) ([]byte, error) {
	if e.closed {
		return nil, ErrEncoderClosed
	}

	var out []byte

	if isFirst {
		out = make([]byte, 0, wavHeaderSize+len(chunk.Samples)*bytesPerSample)
		out = appendWAVHeader(out, e.sampleRate, unknownLength)
	}

	return samplesToBytes(out, chunk.Samples), nil
}

func (e *wavEncoder) Close() error {
	e.closed = true

	return nil
}

func appendWAVHeader(out []byte, sampleRate int, dataSize uint32) []byte {
	riffSize := uint32(unknownLength)
	if dataSize != unknownLength {
		riffSize = dataSize + wavHeaderSize - riffChunkStart
	}

	byteRate := uint32(sampleRate * monoChannels * bytesPerSample)

	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, riffSize)
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, fmtChunkSize)
	out = binary.LittleEndian.AppendUint16(out, pcmFormatTag)
	out = binary.LittleEndian.AppendUint16(out, monoChannels)
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, byteRate)
	out = binary.LittleEndian.AppendUint16(out, monoChannels*bytesPerSample)
	out = binary.LittleEndian.AppendUint16(out, bitDepth)
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, dataSize)

	return out
}

// PatchWAVSizes rewrites the RIFF and data lengths of a complete in-memory WAV
// produced by a streaming encoder. Buffers that are not WAV are left untouched.
func PatchWAVSizes(data []byte) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[36:40]) != "data" {
		return
	}

	dataSize := uint32(len(data) - wavHeaderSize)
	binary.LittleEndian.PutUint32(data[4:8], dataSize+wavHeaderSize-riffChunkStart)
	binary.LittleEndian.PutUint32(data[40:44], dataSize)
}

func samplesToBytes(out []byte, samples []int16) []byte {
	if out == nil {
		out = make([]byte, 0, len(samples)*bytesPerSample)
	}

	for _, sample := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(sample))
	}

	return out
}

// SamplesFromBytes decodes little-endian s16 PCM. A trailing odd byte is ignored.
func SamplesFromBytes(data []byte) []int16 {
	samples := make([]int16, len(data)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
	}

	return samples
}
