// Package wire defines the byte-level framing between client and relay.
//
// Every frame is
//
//	[u32 big-endian payload length][u8 kind][payload]
//
// with kinds HANDSHAKE_PUBKEY=1, HANDSHAKE_KEY=2, CHAT_MESSAGE=3, COMMAND=4
// and PRESENCE=5. The stream underneath is assumed ordered and reliable but
// not message oriented, so boundaries come only from the length prefix.
//
// After the handshake every payload is sealed by the session cipher:
//
//	CHAT_MESSAGE  [u8 idLen][identity][12 nonce][ciphertext][16 tag]
//	COMMAND       [12 nonce][ciphertext][16 tag]
//	PRESENCE      [12 nonce][ciphertext][16 tag]
//
// Sealed plaintexts are CBOR maps with integer keys (ChatBody, CommandBody,
// PresenceBody). Decoding failures of any kind wrap domain.ErrProtocol and
// are never reinterpreted as another frame kind.
package wire
