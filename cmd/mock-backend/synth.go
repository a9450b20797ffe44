package main

import (
	"math/rand"
	"strings"
	"time"

	"github.com/skypro1111/live-caption-client/internal/audio"
)

var vocabulary = strings.Fields(`the quick brown fox jumps over a lazy dog while
live captions follow every word spoken on the stream and the backend answers
with timed words for each segment it receives`)

type offset struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

func toOffset(d time.Duration) offset {
	return offset{
		Seconds: int64(d / time.Second),
		Nanos:   int32(d % time.Second),
	}
}

type wordInfo struct {
	Word      string `json:"word"`
	StartTime offset `json:"start_time"`
	EndTime   offset `json:"end_time"`
}

type alternative struct {
	Transcript string     `json:"transcript"`
	Confidence float32    `json:"confidence"`
	Words      []wordInfo `json:"words"`
}

type result struct {
	Alternatives []alternative `json:"alternatives"`
}

type recognizeResponse struct {
	Results []result `json:"results"`
}

type failResponse struct {
	Fail string `json:"fail"`
}

// synthesizer fabricates recognition results shaped like a cloud speech
// Recognize response.
type synthesizer struct {
	wordsPerSecond float64
	blobDuration   time.Duration
	rng            *rand.Rand
}

func newSynthesizer(wordsPerSecond float64, blobDuration time.Duration, seed int64) *synthesizer {
	return &synthesizer{
		wordsPerSecond: wordsPerSecond,
		blobDuration:   blobDuration,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// duration estimates how much media a blob holds. WAV blobs carry their own
// length; anything else is assumed to be blobDuration long.
func (s *synthesizer) duration(blob []byte) time.Duration {
	if format, pcm, err := audio.DecodeWAV(blob); err == nil {
		return time.Duration(audio.WAVDuration(len(pcm), format) * float64(time.Second))
	}
	return s.blobDuration
}

// respond builds the reply for one blob. Empty blobs get the failure marker.
func (s *synthesizer) respond(blob []byte) interface{} {
	if len(blob) == 0 {
		return failResponse{Fail: "empty audio"}
	}

	total := s.duration(blob)
	count := int(total.Seconds() * s.wordsPerSecond)
	if count == 0 {
		return recognizeResponse{Results: []result{}}
	}

	step := total / time.Duration(count)
	words := make([]wordInfo, 0, count)
	text := make([]string, 0, count)
	for i := 0; i < count; i++ {
		w := vocabulary[s.rng.Intn(len(vocabulary))]
		start := time.Duration(i) * step
		words = append(words, wordInfo{
			Word:      w,
			StartTime: toOffset(start),
			EndTime:   toOffset(start + step),
		})
		text = append(text, w)
	}

	return recognizeResponse{Results: []result{{
		Alternatives: []alternative{{
			Transcript: strings.Join(text, " "),
			Confidence: 0.8 + 0.2*s.rng.Float32(),
			Words:      words,
		}},
	}}}
}
