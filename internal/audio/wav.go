package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// WAVHeader represents the header structure of a canonical PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// PCMFormat describes raw interleaved little-endian PCM.
type PCMFormat struct {
	SampleRate    int `yaml:"sample_rate" json:"sample_rate"`
	Channels      int `yaml:"channels" json:"channels"`
	BitsPerSample int `yaml:"bits_per_sample" json:"bits_per_sample"`
}

// Validate checks the format is something a WAV header can describe.
func (f PCMFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	if f.BitsPerSample != 8 && f.BitsPerSample != 16 && f.BitsPerSample != 24 && f.BitsPerSample != 32 {
		return fmt.Errorf("unsupported bits per sample: %d", f.BitsPerSample)
	}
	return nil
}

// BlockAlign returns the size of one frame across all channels.
func (f PCMFormat) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond returns the PCM data rate.
func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.BlockAlign()
}

// EncodeWAV wraps raw PCM bytes in a WAV header
func EncodeWAV(pcm []byte, format PCMFormat) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio data")
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if len(pcm)%format.BlockAlign() != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of block align %d", len(pcm), format.BlockAlign())
	}

	dataSize := uint32(len(pcm))
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.BytesPerSecond()),
		BlockAlign:    uint16(format.BlockAlign()),
		BitsPerSample: uint16(format.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeWAV parses a canonical WAV blob into its format and PCM payload
func DecodeWAV(data []byte) (PCMFormat, []byte, error) {
	if len(data) < wavHeaderSize {
		return PCMFormat{}, nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &header); err != nil {
		return PCMFormat{}, nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if err := ValidateWAV(header); err != nil {
		return PCMFormat{}, nil, err
	}

	payload := data[wavHeaderSize:]
	if int(header.Subchunk2Size) < len(payload) {
		payload = payload[:header.Subchunk2Size]
	}

	format := PCMFormat{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
	}
	return format, payload, nil
}

// ValidateWAV checks the header describes uncompressed PCM
func ValidateWAV(header WAVHeader) error {
	if string(header.ChunkID[:]) != "RIFF" {
		return fmt.Errorf("invalid chunk ID: expected 'RIFF', got '%s'", string(header.ChunkID[:]))
	}
	if string(header.Format[:]) != "WAVE" {
		return fmt.Errorf("invalid format: expected 'WAVE', got '%s'", string(header.Format[:]))
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return fmt.Errorf("invalid subchunk1 ID: expected 'fmt ', got '%s'", string(header.Subchunk1ID[:]))
	}
	if header.AudioFormat != 1 {
		return fmt.Errorf("unsupported audio format: expected 1 (PCM), got %d", header.AudioFormat)
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return fmt.Errorf("invalid subchunk2 ID: expected 'data', got '%s'", string(header.Subchunk2ID[:]))
	}
	return nil
}

// WAVDuration returns the playback length of a PCM payload in seconds
func WAVDuration(pcmBytes int, format PCMFormat) float64 {
	rate := format.BytesPerSecond()
	if rate == 0 {
		return 0
	}
	return float64(pcmBytes) / float64(rate)
}
