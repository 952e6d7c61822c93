// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package feed

import (
	"testing"
)

func TestCursorRoundTrip(t *testing.T) {
	tests := []cursor{
		{Generation: 0, Offset: 0},
		{Generation: 1, Offset: 20},
		{Generation: 42, Offset: 199},
	}
	for _, want := range tests {
		got, err := decodeCursor(want.Encode(), want.Generation)
		if err != nil {
			t.Fatalf("decodeCursor(%+v) error: %v", want, err)
		}
		if got != want {
			t.Errorf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestDecodeCursorEmpty(t *testing.T) {
	got, err := decodeCursor("", 7)
	if err != nil {
		t.Fatalf("decodeCursor(\"\") error: %v", err)
	}
	if got.Generation != 7 || got.Offset != 0 {
		t.Errorf("empty cursor = %+v", got)
	}
}

func TestDecodeCursorMalformed(t *testing.T) {
	tests := []string{
		"not base64 !!!",
		"aGVsbG8",    // valid base64, wrong shape
		"ZzE",        // "g1" with no offset
		"bzEyOmcz",   // "o12:g3" swapped markers
		"Zy0xOm8tNQ", // negative values
		"ZzE6b2FiYw", // "g1:oabc" non-numeric offset
	}
	for _, s := range tests {
		if _, err := decodeCursor(s, 1); err == nil {
			t.Errorf("decodeCursor(%q) accepted malformed cursor", s)
		}
	}
}
