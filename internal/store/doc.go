// Package store holds veilchat's on-disk state: the relay's RSA key files
// and the client's encrypted message log.
//
// Key files are PEM and written atomically; the private key is 0600. The
// message log is an append-only file of individually sealed records framed
// so that a damaged record costs only itself.
package store
