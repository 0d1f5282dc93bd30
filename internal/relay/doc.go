// Package relay is the chat server's network edge: it accepts TCP
// connections, admits them through the registry and runs one read loop per
// session, dispatching chat messages and commands.
//
// A maintenance loop broadcasts the online list on an interval and, when
// configured, disconnects sessions that have gone quiet.
package relay
