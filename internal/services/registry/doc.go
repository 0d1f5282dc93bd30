// Package registry is the relay's set of live sessions and the fan-out that
// runs over it.
//
// A Session is created only after a successful handshake and carries its
// own session key, cipher and bounded outbound queue. Every frame a session
// receives from the registry is sealed by that session's writer goroutine,
// so ciphertext is never shared between recipients. A recipient whose queue
// is full is removed (reason slow_consumer) rather than allowed to stall the
// others.
package registry
