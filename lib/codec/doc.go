// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the module's standard CBOR encoding
// configuration.
//
// The shared-memory ring carries raw framed bytes; everything
// structured that crosses the process boundary — the batched IPC
// fallback messages in lib/ipc, control and status envelopes — is
// CBOR. This package holds the shared encoder and decoder modes so
// every package encodes identically.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes.
//
// Buffer-oriented use (tests, assembled batches):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream-oriented use (sockets, pipes):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
