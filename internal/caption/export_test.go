package caption

import (
	"strings"
	"testing"
)

func TestExport(t *testing.T) {
	sink := NewMemorySink()
	track := sink.AddTextTrack(KindSubtitles, "English", "en")
	track.AddCue(Cue{ID: "a", Start: 1, End: 2.5, Text: "hello world"})

	tests := []struct {
		format ExportFormat
		want   []string
	}{
		{FormatWebVTT, []string{"WEBVTT", "00:00:01.000 --> 00:00:02.500", "hello world"}},
		{FormatSRT, []string{"00:00:01,000 --> 00:00:02,500", "hello world"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			out, err := ExportBytes(track, tt.format)
			if err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(out), w) {
					t.Errorf("Expected output to contain %q, got:\n%s", w, out)
				}
			}
		})
	}
}

func TestExportEmptyTrack(t *testing.T) {
	track := NewMemorySink().AddTextTrack(KindSubtitles, "", "")

	out, err := ExportBytes(track, FormatWebVTT)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if strings.TrimSpace(string(out)) != "WEBVTT" {
		t.Errorf("Expected bare WEBVTT header, got %q", out)
	}

	if _, err := ExportBytes(track, "ass"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
