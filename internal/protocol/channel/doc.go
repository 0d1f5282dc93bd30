// Package channel seals and opens chat payloads once a session key exists.
//
// Keys are derived per direction with HKDF-SHA256 (salt: the handshake
// challenge) and used with ChaCha20-Poly1305. Nonces are four zero bytes
// followed by a big-endian 64-bit counter, so a nonce is never reused under
// one key, and the receiver accepts only the next counter in sequence.
package channel
