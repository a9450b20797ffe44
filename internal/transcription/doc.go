// Package transcription talks to the speech backend. It owns the websocket
// connection lifecycle (dial, keepalive, reconnect with backoff behind a
// circuit breaker) and decodes the backend's JSON replies into transcript
// results with word-level timing.
package transcription
