// Command relay runs the veilchat server.
//
// Commands
//
//   - serve    Accept clients, relay their messages and presence
//   - keygen   Generate the RSA key pair clients pin
//
// Configuration is read from relay.toml (see internal/app) and overridden
// by flags. serve refuses to start without a loadable key pair and shuts
// down cleanly on SIGINT or SIGTERM, telling every client why.
package main
