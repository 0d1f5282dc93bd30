// Package commands defines the veilchat CLI.
//
// Commands
//
//   - connect       Join the relay and chat from stdin
//   - history       Decrypt and print the local message log
//   - fingerprint   Print the pinned relay key fingerprint
//
// # Implementation
//
// The root command loads veilchat.toml, applies flag overrides and sets up
// logging before any subcommand runs. Output is plain text; the chat core
// hands back structured results and this package only prints them.
package commands
