// Package transport moves sealed chunks between two endpoints.
//
// Ownership boundary:
// - ChunkConn: chunk delimiting over TCP/TLS (length prefix) or websocket (one binary message)
// - Peer: bidirectional key exchange under a deadline, read loop, serialized writes
// - Server: accept loop, per-connection responder handshake, coordinated shutdown
// - Dial: initiator connect with exponential backoff
//
// The protocol core in internal/protocol/session never blocks; every
// suspension point lives here.
package transport
