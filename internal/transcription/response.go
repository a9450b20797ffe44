package transcription

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NanoTime is a protobuf Duration as the backend serializes it.
type NanoTime struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// Float64 returns the time in seconds.
func (n NanoTime) Float64() float64 {
	return float64(n.Seconds) + float64(n.Nanos)/1e9
}

// Duration returns the time as a time.Duration.
func (n NanoTime) Duration() time.Duration {
	return time.Duration(n.Seconds)*time.Second + time.Duration(n.Nanos)
}

// UnmarshalJSON accepts {"seconds":4,"nanos":0} with numeric or string
// seconds, the protojson form "1.500s", or null. Missing fields are zero.
func (n *NanoTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*n = NanoTime{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return n.parseDurationString(s)
	}

	var raw struct {
		Seconds json.Number `json:"seconds"`
		Nanos   json.Number `json:"nanos"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	var out NanoTime
	if raw.Seconds != "" {
		secs, err := strconv.ParseInt(string(raw.Seconds), 10, 64)
		if err != nil {
			return fmt.Errorf("decode duration seconds %q: %w", raw.Seconds, err)
		}
		out.Seconds = secs
	}
	if raw.Nanos != "" {
		nanos, err := strconv.ParseInt(string(raw.Nanos), 10, 32)
		if err != nil {
			return fmt.Errorf("decode duration nanos %q: %w", raw.Nanos, err)
		}
		out.Nanos = int32(nanos)
	}

	*n = out
	return nil
}

func (n *NanoTime) parseDurationString(s string) error {
	if !strings.HasSuffix(s, "s") {
		return fmt.Errorf("duration %q has no seconds suffix", s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("decode duration %q: %w", s, err)
	}
	n.Seconds = int64(d / time.Second)
	n.Nanos = int32(d % time.Second)
	return nil
}

// Word is a single recognized word with offsets relative to the blob start.
type Word struct {
	Word      string   `json:"word"`
	StartTime NanoTime `json:"start_time"`
	EndTime   NanoTime `json:"end_time"`
}

// UnmarshalJSON accepts both snake_case and protojson camelCase offsets.
func (w *Word) UnmarshalJSON(data []byte) error {
	var raw struct {
		Word           string    `json:"word"`
		StartTime      *NanoTime `json:"start_time"`
		EndTime        *NanoTime `json:"end_time"`
		StartTimeCamel *NanoTime `json:"startTime"`
		EndTimeCamel   *NanoTime `json:"endTime"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*w = Word{Word: raw.Word}
	switch {
	case raw.StartTime != nil:
		w.StartTime = *raw.StartTime
	case raw.StartTimeCamel != nil:
		w.StartTime = *raw.StartTimeCamel
	}
	switch {
	case raw.EndTime != nil:
		w.EndTime = *raw.EndTime
	case raw.EndTimeCamel != nil:
		w.EndTime = *raw.EndTimeCamel
	}
	return nil
}

// Alternative is one candidate transcript for a result.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// Result groups the alternatives for one stretch of audio.
type Result struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Response is a decoded backend reply.
type Response struct {
	Results []Result `json:"results,omitempty"`

	// HasResults is false when the reply carried no results field at all,
	// which the backend sends for silence.
	HasResults bool `json:"-"`

	// Failed is set when the backend replied with its failure marker.
	Failed     bool   `json:"-"`
	FailReason string `json:"-"`
}

// Alternatives flattens the alternatives of every result in order.
func (r *Response) Alternatives() []Alternative {
	var out []Alternative
	for _, res := range r.Results {
		out = append(out, res.Alternatives...)
	}
	return out
}

// ParseResponse decodes one backend message. An error means the payload was
// not a JSON object.
func ParseResponse(data []byte) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	resp := &Response{}

	if fail, ok := fields["fail"]; ok {
		resp.Failed = true
		resp.FailReason = failReason(fail)
		return resp, nil
	}

	raw, ok := fields["results"]
	if !ok {
		return resp, nil
	}
	resp.HasResults = true

	if err := json.Unmarshal(raw, &resp.Results); err != nil {
		return nil, fmt.Errorf("malformed results: %w", err)
	}

	return resp, nil
}

func failReason(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
