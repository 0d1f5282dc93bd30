// Package handshake transports a per-connection session key from client to
// relay.
//
//	relay  -> client  HANDSHAKE_PUBKEY  [u16 len][PKIX DER][32-byte challenge]
//	client -> relay   HANDSHAKE_KEY     RSA-OAEP-SHA256(session key, label=challenge)
//
// The client considers the exchange confirmed once the first sealed frame
// from the relay opens under keys derived from the session key.
package handshake
