// Package sinks implements progress consumers: a structured log, Prometheus
// collectors and a websocket broadcaster for live operator views.
package sinks
