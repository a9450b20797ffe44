package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/youpy/go-wav"
)

// WAVFileConfig configures a WAVFile source.
type WAVFileConfig struct {
	Path          string
	ChunkDuration time.Duration // audio per Add call
	Realtime      bool          // pace chunks at playback speed
}

// WAVFile streams the PCM payload of a WAV file in fixed-duration slices and
// grows the timeline by each slice's playback length.
type WAVFile struct {
	cfg      WAVFileConfig
	logger   *slog.Logger
	timeline *Timeline
	consumer Consumer
}

// WAVInfo describes the stream format read from the file header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerSecond of raw payload.
func (i WAVInfo) BytesPerSecond() int {
	return i.SampleRate * i.Channels * i.BitsPerSample / 8
}

// NewWAVFile creates a WAV source.
func NewWAVFile(cfg WAVFileConfig, timeline *Timeline, consumer Consumer, logger *slog.Logger) (*WAVFile, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("wav path cannot be empty")
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = time.Second
	}
	return &WAVFile{cfg: cfg, logger: logger, timeline: timeline, consumer: consumer}, nil
}

// ReadWAVInfo reads the stream format from the header of the file at path.
func ReadWAVInfo(path string) (WAVInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	return readInfo(wav.NewReader(file))
}

func readInfo(reader *wav.Reader) (WAVInfo, error) {
	format, err := reader.Format()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("failed to read wav format: %w", err)
	}

	info := WAVInfo{
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.NumChannels),
		BitsPerSample: int(format.BitsPerSample),
	}
	if info.BytesPerSecond() <= 0 {
		return WAVInfo{}, fmt.Errorf("unsupported wav format: %+v", info)
	}
	return info, nil
}

// Run reads the whole file, returning when it is exhausted or ctx ends.
func (w *WAVFile) Run(ctx context.Context) error {
	file, err := os.Open(w.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	info, err := readInfo(reader)
	if err != nil {
		return err
	}

	blockAlign := info.Channels * info.BitsPerSample / 8
	chunkBytes := int(w.cfg.ChunkDuration.Seconds() * float64(info.BytesPerSecond()))
	chunkBytes -= chunkBytes % blockAlign
	if chunkBytes <= 0 {
		chunkBytes = blockAlign
	}

	w.logger.Info("Streaming wav file",
		slog.String("path", w.cfg.Path),
		slog.Int("sample_rate", info.SampleRate),
		slog.Int("channels", info.Channels),
		slog.Int("bits_per_sample", info.BitsPerSample),
		slog.Int("chunk_bytes", chunkBytes),
	)

	var pace *time.Ticker
	if w.cfg.Realtime {
		pace = time.NewTicker(w.cfg.ChunkDuration)
		defer pace.Stop()
	}

	total := 0
	for {
		buf := make([]byte, chunkBytes)
		n, readErr := io.ReadFull(reader, buf)
		if n > 0 {
			seconds := float64(n) / float64(info.BytesPerSecond())
			w.timeline.Advance(seconds)
			if err := w.consumer.Add(buf[:n]); err != nil {
				return fmt.Errorf("failed to add wav chunk: %w", err)
			}
			total += n
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				w.logger.Info("Wav file exhausted", slog.Int("bytes", total))
				return nil
			}
			return fmt.Errorf("failed to read wav data: %w", readErr)
		}

		if pace != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-pace.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}
	}
}
