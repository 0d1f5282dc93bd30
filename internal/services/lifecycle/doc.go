// Package lifecycle decides when a received message stops being shown.
//
// Two policies are supported. FixedDelay hides a message a fixed time after
// it was created. Inactivity hides everything on screen once nothing new has
// arrived for the delay. Each message moves Fresh to Stale exactly once.
package lifecycle
