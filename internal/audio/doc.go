// Package audio handles client-side audio accumulation and blob construction.
// It implements the chunk merge buffer keyed by media time range, the FIFO
// overflow queue used while a transcription request is in flight, and the
// encoders that turn drained parts into a request blob (fMP4 concat or WAV).
package audio
