// Package session owns the per-connection protocol state machines.
//
// Ownership boundary:
// - Encoder: pending items, ordering, chunk sealing, outbound sequence
// - Decoder: session key opening, chunk opening, reassembly, completed queue
// - Session: explicit bundle of table, config, encoder and decoder
//
// Nothing here blocks or performs I/O. Transports feed chunks in and write
// chunks out; see internal/transport.
//
// Sealed chunk layout:
//
//	nonce  = zero-padded big-endian sequence number (AEAD nonce size)
//	aad    = sequence number, 8 bytes big-endian
//	plain  = [issued_at unix ms:8][tlv bytes...]
//	chunk  = AEAD.Seal(nonce, plain, aad)
package session
