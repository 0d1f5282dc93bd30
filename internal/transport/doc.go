// Package transport dials the relay, directly or through a SOCKS5 proxy
// such as a local Tor daemon.
package transport
