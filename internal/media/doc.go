// Package media describes the playback surface the caption client listens to.
// It defines media-timeline time ranges, the buffered-range collaborator and
// the sources (segment directories, WAV files) that feed raw audio bytes.
package media
