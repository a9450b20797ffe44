package transcription

import (
	"encoding/json"
	"math"
	"testing"
)

func TestNanoTimeFloat64(t *testing.T) {
	tests := []struct {
		name string
		json string
		want float64
	}{
		{"whole seconds", `{"seconds":4,"nanos":0}`, 4.0},
		{"nanos only", `{"nanos":400000000}`, 0.4},
		{"seconds and nanos", `{"seconds":1,"nanos":500000000}`, 1.5},
		{"string seconds", `{"seconds":"2","nanos":250000000}`, 2.25},
		{"empty object", `{}`, 0},
		{"null", `null`, 0},
		{"protojson string", `"1.500s"`, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n NanoTime
			if err := json.Unmarshal([]byte(tt.json), &n); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if math.Abs(n.Float64()-tt.want) > 1e-9 {
				t.Errorf("Expected %f, got %f", tt.want, n.Float64())
			}
		})
	}
}

func TestNanoTimeInvalid(t *testing.T) {
	for _, in := range []string{`"1.5"`, `{"seconds":"x"}`, `[1]`} {
		var n NanoTime
		if err := json.Unmarshal([]byte(in), &n); err == nil {
			t.Errorf("Expected error for %s", in)
		}
	}
}

func TestParseResponseResults(t *testing.T) {
	data := []byte(`{"results":[
		{"alternatives":[{"transcript":"hello world","confidence":0.9,"words":[
			{"word":"hello","start_time":{"seconds":1},"end_time":{"seconds":1,"nanos":500000000}},
			{"word":"world","startTime":"1.5s","endTime":"2s"}
		]}]},
		{"alternatives":[{"transcript":"again","confidence":0.5}]}
	]}`)

	resp, err := ParseResponse(data)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.Failed {
		t.Error("Expected success response")
	}
	if !resp.HasResults {
		t.Error("Expected HasResults")
	}

	alts := resp.Alternatives()
	if len(alts) != 2 {
		t.Fatalf("Expected 2 flattened alternatives, got %d", len(alts))
	}

	words := alts[0].Words
	if len(words) != 2 {
		t.Fatalf("Expected 2 words, got %d", len(words))
	}
	if words[1].StartTime.Float64() != 1.5 || words[1].EndTime.Float64() != 2 {
		t.Errorf("Expected camelCase offsets 1.5-2, got %f-%f",
			words[1].StartTime.Float64(), words[1].EndTime.Float64())
	}
	if words[0].EndTime.Float64() != 1.5 {
		t.Errorf("Expected end 1.5, got %f", words[0].EndTime.Float64())
	}
}

func TestParseResponseFailure(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"fail":"empty audio"}`))
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if !resp.Failed {
		t.Error("Expected failure marker to be detected")
	}
	if resp.FailReason != "empty audio" {
		t.Errorf("Expected reason 'empty audio', got %q", resp.FailReason)
	}

	resp, err = ParseResponse([]byte(`{"fail":true}`))
	if err != nil || !resp.Failed || resp.FailReason != "true" {
		t.Errorf("Expected non-string failure marker to be detected, got %+v (%v)", resp, err)
	}
}

func TestParseResponseNoResults(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"totalBilledTime":"3s"}`))
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.HasResults || resp.Failed {
		t.Errorf("Expected empty response, got %+v", resp)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	for _, in := range []string{`not json`, `[1,2]`, `{"results":"nope"}`} {
		if _, err := ParseResponse([]byte(in)); err == nil {
			t.Errorf("Expected error for %s", in)
		}
	}
}
