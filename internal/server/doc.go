// Package server implements the WebSocket transport and per-connection
// dispatch for the chat relay.
//
// The implementation is organized into specialized files for configuration, hub
// management, clients, routing, and HTTP handlers. Session bookkeeping lives
// in the session package and fan-out in the broadcast package; this package
// wires them to real connections.
package server
