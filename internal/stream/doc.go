// Package stream runs the caption pipeline: it buffers incoming media with
// its buffered time range, schedules at most one transcription request at a
// time, queues segments while the backend is busy and turns replies into
// caption cues.
//
// All state is owned by a single goroutine. Add, SetHeader, transport
// callbacks and timers only post events to it.
package stream
