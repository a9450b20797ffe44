package caption

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/asticode/go-astisub"
)

// ExportFormat is a subtitle file format.
type ExportFormat string

const (
	FormatWebVTT ExportFormat = "vtt"
	FormatSRT    ExportFormat = "srt"
)

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatWebVTT:
		return "text/vtt; charset=utf-8"
	case FormatSRT:
		return "application/x-subrip; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Subtitles converts cues to an astisub document.
func Subtitles(cues []Cue) *astisub.Subtitles {
	subs := astisub.NewSubtitles()
	for _, c := range cues {
		subs.Items = append(subs.Items, &astisub.Item{
			StartAt: secondsToDuration(c.Start),
			EndAt:   secondsToDuration(c.End),
			Lines: []astisub.Line{
				{Items: []astisub.LineItem{{Text: c.Text}}},
			},
		})
	}
	return subs
}

// Export writes the cues of a track in the given format.
func Export(w io.Writer, track Track, format ExportFormat) error {
	cues := track.Cues()

	// astisub refuses to write an empty document
	if len(cues) == 0 {
		if format == FormatWebVTT {
			_, err := io.WriteString(w, "WEBVTT\n")
			return err
		}
		if format == FormatSRT {
			return nil
		}
	}

	subs := Subtitles(cues)
	switch format {
	case FormatWebVTT:
		return subs.WriteToWebVTT(w)
	case FormatSRT:
		return subs.WriteToSRT(w)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportBytes is Export into a byte slice.
func ExportBytes(track Track, format ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	if err := Export(&buf, track, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
