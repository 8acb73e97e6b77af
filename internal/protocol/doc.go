// Package protocol owns the wire contract shared by both peers.
//
// Ownership boundary:
// - item model (message vs control code)
// - control-code table
// - error taxonomy
//
// Subpackages:
// - tlv: one item <-> [type][uvarint length][payload]
// - keyx: key exchange and crypto capability backends
// - frame: transport chunk delimiting
// - session: encoder/decoder state machines
package protocol
