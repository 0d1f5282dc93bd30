// Package chat is the client side of a veilchat session.
//
// Dial connects through a domain.Dialer, authenticates the relay against a
// pinned RSA key and waits to be welcomed under an anonymous identity. From
// then on one goroutine receives, feeding messages through the lifecycle
// timeline and, when enabled, into the encrypted message log, and surfacing
// them on Events. Send and the command surface share one serialised send
// path.
//
// Commands return structured Results; rendering them is left to the caller.
package chat
