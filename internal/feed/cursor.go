// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package feed

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrCursorExpired is returned when a cursor references a feed
// generation that has been invalidated. Callers restart pagination
// from the beginning.
var ErrCursorExpired = errors.New("feed cursor expired")

// errCursorMalformed is surfaced as ErrCursorExpired to callers; the
// recovery path is identical.
var errCursorMalformed = errors.New("malformed feed cursor")

// cursor is an opaque offset into a fully-ranked feed for one cache
// generation. It is stable only within that generation's lifetime.
type cursor struct {
	Generation uint64
	Offset     int
}

// Encode returns the wire form of the cursor.
func (c cursor) Encode() string {
	raw := fmt.Sprintf("g%d:o%d", c.Generation, c.Offset)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses a wire cursor. An empty string is the zero
// cursor for the given generation.
func decodeCursor(s string, currentGen uint64) (cursor, error) {
	if s == "" {
		return cursor{Generation: currentGen}, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, errCursorMalformed
	}

	gen, off, ok := strings.Cut(string(raw), ":")
	if !ok || !strings.HasPrefix(gen, "g") || !strings.HasPrefix(off, "o") {
		return cursor{}, errCursorMalformed
	}

	g, err := strconv.ParseUint(gen[1:], 10, 64)
	if err != nil {
		return cursor{}, errCursorMalformed
	}
	o, err := strconv.Atoi(off[1:])
	if err != nil || o < 0 {
		return cursor{}, errCursorMalformed
	}

	return cursor{Generation: g, Offset: o}, nil
}
