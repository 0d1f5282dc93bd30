// Package app loads configuration and wires dependencies for the relay and
// chat binaries.
//
// Config is read from TOML over built-in defaults. RelayWire builds the
// server graph (key pair, metrics, registry, accept loop); ClientWire
// prepares what the chat client needs before dialing (pinned key, dialer,
// message log).
package app
