// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	TerminalID string `cbor:"terminal_id"`
	Data       []byte `cbor:"data"`
	Pending    int64  `cbor:"pending,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	value := sample{TerminalID: "t-1", Data: []byte("output"), Pending: 42}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value produced different encodings")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)

	want := []sample{
		{TerminalID: "t-1", Data: []byte("first")},
		{TerminalID: "t-2", Data: []byte("second"), Pending: 7},
	}
	for _, value := range want {
		if err := encoder.Encode(value); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, wantValue := range want {
		var got sample
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if got.TerminalID != wantValue.TerminalID || !bytes.Equal(got.Data, wantValue.Data) || got.Pending != wantValue.Pending {
			t.Errorf("Decode %d: got %+v, want %+v", i, got, wantValue)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	encoded, err := Marshal(map[string]any{
		"terminal_id": "t-9",
		"data":        []byte("x"),
		"added_later": true,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got sample
	if err := Unmarshal(encoded, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.TerminalID != "t-9" {
		t.Errorf("TerminalID: got %q, want %q", got.TerminalID, "t-9")
	}
}
