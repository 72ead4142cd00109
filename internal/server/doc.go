// Package server implements the realtime chat relay: the WebSocket transport,
// the hub that fans envelopes out to every open connection, the per-connection
// authentication state machine, and the HTTP surface around them.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, request dispatch, history replay, mentions,
// routing, and HTTP handlers.
package server
