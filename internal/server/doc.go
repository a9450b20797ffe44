// Package server exposes the caption client's monitoring API: health,
// pipeline statistics, sanitized configuration, Prometheus metrics and the
// current caption tracks rendered as WebVTT or SRT.
package server
