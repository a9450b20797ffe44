// Package caption turns transcript results into timed cues and manages the
// text tracks they are attached to.
//
// The Translator maps a backend response onto media time: one confidence
// cue per alternative on the metadata track and one subtitle cue per group of
// words. The TrackManager owns the two tracks on a Sink, applies their modes,
// runs the pruning strategy for the playback mode, and wipes them on stop.
// MemorySink is an in-process Sink whose tracks can be exported as WebVTT or
// SRT.
package caption
