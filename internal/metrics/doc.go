// Package metrics defines the relay's Prometheus collectors and the
// /metrics endpoint that exposes them.
package metrics
