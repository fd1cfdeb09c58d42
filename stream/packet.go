// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

// Wire format: [idLen:1 byte][dataLen:2 bytes big-endian][id][data].
// One packet is one atomic unit of the protocol; payloads above
// MaxPayloadLength must be chunked before framing (see SplitPayload).
const (
	// headerLength is the fixed packet header size: 1 byte id length
	// + 2 bytes payload length.
	headerLength = 3

	// MaxIDLength is the hard protocol ceiling on terminal id bytes,
	// fixed by the 1-byte idLen field.
	MaxIDLength = 255

	// MaxPayloadLength is the hard protocol ceiling on payload bytes,
	// fixed by the 2-byte dataLen field.
	MaxPayloadLength = 65535

	// maxPacketLength is the largest possible well-formed packet.
	maxPacketLength = headerLength + MaxIDLength + MaxPayloadLength
)

// Framing errors. Both indicate caller bugs (missing upstream
// chunking or an invalid id), not recoverable wire conditions.
var (
	ErrIDLength      = errors.New("terminal id length outside protocol bounds")
	ErrPayloadLength = errors.New("payload exceeds protocol maximum")
)

// Packet is one demultiplexed unit: a terminal id and its payload.
type Packet struct {
	TerminalID string
	Data       []byte
}

// Frame encodes one packet. The id must be 1..MaxIDLength bytes and
// the payload at most MaxPayloadLength bytes; anything larger must be
// split by the caller first.
func Frame(terminalID string, data []byte) ([]byte, error) {
	if len(terminalID) == 0 || len(terminalID) > MaxIDLength {
		return nil, fmt.Errorf("framing %q: %w", terminalID, ErrIDLength)
	}
	if len(data) > MaxPayloadLength {
		return nil, fmt.Errorf("framing %q (%d bytes): %w", terminalID, len(data), ErrPayloadLength)
	}

	frame := make([]byte, headerLength+len(terminalID)+len(data))
	frame[0] = byte(len(terminalID))
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(data)))
	copy(frame[headerLength:], terminalID)
	copy(frame[headerLength+len(terminalID):], data)
	return frame, nil
}

// SplitPayload splits data into chunks that each fit in one packet.
// Returns nil for empty input.
func SplitPayload(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+MaxPayloadLength-1)/MaxPayloadLength)
	for len(data) > MaxPayloadLength {
		chunks = append(chunks, data[:MaxPayloadLength])
		data = data[MaxPayloadLength:]
	}
	return append(chunks, data)
}

// ParserConfig configures a Parser.
type ParserConfig struct {
	// MaxIDLength and MaxPayloadLength tighten the protocol ceilings
	// below the wire-format maxima. A header whose fields exceed
	// them is treated as corruption. Zero means the wire-format
	// maximum.
	MaxIDLength      int
	MaxPayloadLength int

	// Logger receives resync diagnostics. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Parser reassembles packets from an arbitrary chunking of the framed
// byte stream. It is stateful: bytes that do not yet form a complete
// packet are held across Parse calls, so the consumer can feed it
// whatever Read returned without worrying about packet boundaries.
//
// Parser is not safe for concurrent use; the single consumer owns it.
type Parser struct {
	pending          []byte
	maxIDLength      int
	maxPayloadLength int
	logger           *slog.Logger
	resyncs          uint64
}

// NewParser creates a parser with the given configuration.
func NewParser(configuration ParserConfig) *Parser {
	maxID := configuration.MaxIDLength
	if maxID <= 0 || maxID > MaxIDLength {
		maxID = MaxIDLength
	}
	maxPayload := configuration.MaxPayloadLength
	if maxPayload <= 0 || maxPayload > MaxPayloadLength {
		maxPayload = MaxPayloadLength
	}
	logger := configuration.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		maxIDLength:      maxID,
		maxPayloadLength: maxPayload,
		logger:           logger,
	}
}

// Parse consumes a chunk of the framed stream and returns every
// complete packet now available. An incomplete trailing packet is the
// ordinary partial-read case: its bytes are held for the next call.
//
// A header that violates the protocol ceilings means the stream is
// corrupted. Unrelated multiplexed terminals must keep flowing, so
// the parser resynchronizes — it discards all held bytes, logs, and
// returns the packets parsed before the corruption — rather than
// failing the whole transport. Parse never returns an error.
func (parser *Parser) Parse(chunk []byte) []Packet {
	parser.pending = append(parser.pending, chunk...)

	var packets []Packet
	offset := 0
	for {
		remaining := parser.pending[offset:]
		if len(remaining) < headerLength {
			break
		}

		idLength := int(remaining[0])
		dataLength := int(binary.BigEndian.Uint16(remaining[1:3]))
		packetLength := headerLength + idLength + dataLength

		if idLength == 0 || idLength > parser.maxIDLength ||
			dataLength > parser.maxPayloadLength || packetLength > maxPacketLength {
			parser.resyncs++
			parser.logger.Warn("packet stream corrupted, resynchronizing",
				"id_length", idLength,
				"data_length", dataLength,
				"discarded_bytes", len(remaining),
				"resyncs", parser.resyncs)
			parser.pending = nil
			return packets
		}

		if len(remaining) < packetLength {
			break
		}

		// Copy out of pending: the backing array is reused across
		// calls and must not alias delivered payloads.
		id := string(remaining[headerLength : headerLength+idLength])
		data := make([]byte, dataLength)
		copy(data, remaining[headerLength+idLength:packetLength])
		packets = append(packets, Packet{TerminalID: id, Data: data})
		offset += packetLength
	}

	if offset > 0 {
		remainder := parser.pending[offset:]
		parser.pending = append(parser.pending[:0], remainder...)
	}
	return packets
}

// Reset discards all held state, for a logical transport reset.
func (parser *Parser) Reset() {
	parser.pending = nil
}

// Resyncs returns how many times the parser has discarded state after
// detecting corruption.
func (parser *Parser) Resyncs() uint64 {
	return parser.resyncs
}
