package caption

import (
	"strings"

	"github.com/skypro1111/live-caption-client/internal/media"
	"github.com/skypro1111/live-caption-client/internal/transcription"
)

// DefaultGroupSize is the number of words per subtitle cue.
const DefaultGroupSize = 10

// ConfidenceEntry is the score of one alternative over the request range.
type ConfidenceEntry struct {
	Score float64         `json:"confidence"`
	Range media.TimeRange `json:"range"`
}

// CueGroup is a run of consecutive words shown as one cue.
type CueGroup struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words int     `json:"words"`
}

// Translation is everything derived from one response.
type Translation struct {
	Range      media.TimeRange
	Confidence []ConfidenceEntry
	Groups     []CueGroup
}

// IsEmpty reports whether the translation produces no cues.
func (t Translation) IsEmpty() bool {
	return len(t.Confidence) == 0 && len(t.Groups) == 0
}

// Translator maps transcript word offsets onto media time.
type Translator struct {
	groupSize int
}

// NewTranslator creates a translator grouping groupSize words per cue.
func NewTranslator(groupSize int) *Translator {
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	return &Translator{groupSize: groupSize}
}

// GroupSize returns the configured words per cue.
func (t *Translator) GroupSize() int {
	return t.groupSize
}

// Translate converts a response for the audio that covered r. Responses
// without a results field, and failure replies, translate to nothing.
func (t *Translator) Translate(resp *transcription.Response, r media.TimeRange) Translation {
	out := Translation{Range: r}
	if resp == nil || resp.Failed || !resp.HasResults {
		return out
	}

	for _, alt := range resp.Alternatives() {
		out.Confidence = append(out.Confidence, ConfidenceEntry{Score: alt.Confidence, Range: r})
		out.Groups = append(out.Groups, t.group(alt.Words, r.Start)...)
	}

	return out
}

// group splits one alternative's words into cues; groups never span
// alternatives.
func (t *Translator) group(words []transcription.Word, offset float64) []CueGroup {
	var groups []CueGroup

	for i := 0; i < len(words); i += t.groupSize {
		end := i + t.groupSize
		if end > len(words) {
			end = len(words)
		}
		batch := words[i:end]

		text := make([]string, len(batch))
		for j, w := range batch {
			text[j] = w.Word
		}

		groups = append(groups, CueGroup{
			Start: offset + batch[0].StartTime.Float64(),
			End:   offset + batch[len(batch)-1].EndTime.Float64(),
			Text:  strings.Join(text, " "),
			Words: len(batch),
		})
	}

	return groups
}
