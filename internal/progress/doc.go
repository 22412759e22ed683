// Package progress carries live batch progress out of the state machine. The
// Hub buffers events on a background goroutine and fans them out to sinks
// such as the structured log, Prometheus and connected websocket clients.
package progress
