// Package server implements the presence and chat-relay hub: the websocket
// upgrade gate, the connection registry, the periodic liveness sweep, the chat
// relay and the small account HTTP surface that mints tokens.
//
// The implementation is organized into specialized files for the hub, clients,
// presence, relay, upgrade gate, account handlers and HTTP plumbing.
package server
