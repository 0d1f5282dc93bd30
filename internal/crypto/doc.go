// Package crypto exposes the key material primitives used by veilchat.
//
// Contents
//
//   - RSA key pair generation, PEM encoding and loading (GenerateKeyPair,
//     LoadKeyPair); loading failures wrap domain.ErrKeyLoad
//   - SessionKey, the per-connection symmetric secret, which zeroes itself
//     on Destroy and refuses to be printed or serialised
//   - Password-based derivation of log storage keys (DeriveLogKey) with
//     Argon2id or scrypt
//   - Short fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// The relay's private key never leaves process memory. Callers should treat
// derived keys as sensitive and wipe them with memzero when done.
package crypto
