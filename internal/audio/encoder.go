package audio

import (
	"errors"
	"fmt"
)

// ErrEmptyBlob is returned when there is nothing to encode.
var ErrEmptyBlob = errors.New("no audio to encode")

// Encoding names a blob format.
type Encoding string

const (
	// EncodingConcat emits the header followed by every part verbatim.
	EncodingConcat Encoding = "concat"
	// EncodingWAV treats parts as raw PCM and wraps them in a WAV file.
	EncodingWAV Encoding = "wav"
)

// Encoder turns a stream header and drained parts into one request blob.
type Encoder interface {
	Encode(header []byte, parts [][]byte) ([]byte, error)
	ContentType() string
}

// NewEncoder returns the encoder for the named format.
func NewEncoder(enc Encoding, format PCMFormat) (Encoder, error) {
	switch enc {
	case EncodingConcat, "":
		return ConcatEncoder{}, nil
	case EncodingWAV:
		if err := format.Validate(); err != nil {
			return nil, fmt.Errorf("wav encoder: %w", err)
		}
		return WAVEncoder{Format: format}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// ConcatEncoder builds header ++ parts, the layout of an fMP4 fragment run.
type ConcatEncoder struct{}

// Encode implements Encoder.
func (ConcatEncoder) Encode(header []byte, parts [][]byte) ([]byte, error) {
	size := len(header)
	for _, p := range parts {
		size += len(p)
	}
	if size == len(header) {
		return nil, ErrEmptyBlob
	}

	blob := make([]byte, 0, size)
	blob = append(blob, header...)
	for _, p := range parts {
		blob = append(blob, p...)
	}
	return blob, nil
}

// ContentType implements Encoder.
func (ConcatEncoder) ContentType() string {
	return "audio/mp4"
}

// WAVEncoder wraps PCM parts in a WAV header. The stream header is ignored.
type WAVEncoder struct {
	Format PCMFormat
}

// Encode implements Encoder. A torn trailing frame is cut off so the header
// matches the payload; those few bytes are not sent.
func (e WAVEncoder) Encode(_ []byte, parts [][]byte) ([]byte, error) {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	if size == 0 {
		return nil, ErrEmptyBlob
	}

	pcm := make([]byte, 0, size)
	for _, p := range parts {
		pcm = append(pcm, p...)
	}

	// a torn trailing frame would make the header lie about the payload
	if extra := len(pcm) % e.Format.BlockAlign(); extra != 0 {
		pcm = pcm[:len(pcm)-extra]
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyBlob
	}

	return EncodeWAV(pcm, e.Format)
}

// ContentType implements Encoder.
func (WAVEncoder) ContentType() string {
	return "audio/wav"
}
