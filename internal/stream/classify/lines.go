// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package classify

import "strings"

// maxCarry bounds the unterminated tail kept between chunks.
const maxCarry = 4096

// LineAssembler reassembles arbitrarily chunked diagnostic output into
// lines. Both '\n' and '\r' terminate a line, since progress output is
// carriage-return delimited. It is not safe for concurrent use.
type LineAssembler struct {
	carry strings.Builder
}

// Feed appends chunk and returns every line completed by it.
func (a *LineAssembler) Feed(chunk []byte) []string {
	var lines []string
	start := 0
	for i, c := range chunk {
		if c != '\n' && c != '\r' {
			continue
		}
		a.carry.Write(chunk[start:i])
		if a.carry.Len() > 0 {
			lines = append(lines, a.carry.String())
			a.carry.Reset()
		}
		start = i + 1
	}
	rest := chunk[start:]
	if a.carry.Len()+len(rest) > maxCarry {
		// An unterminated run this long is not a diagnostic line; emit what
		// we have so markers inside it are still seen.
		a.carry.Write(rest)
		lines = append(lines, a.carry.String())
		a.carry.Reset()
		return lines
	}
	a.carry.Write(rest)
	return lines
}

// Flush returns the pending unterminated line, if any.
func (a *LineAssembler) Flush() (string, bool) {
	if a.carry.Len() == 0 {
		return "", false
	}
	s := a.carry.String()
	a.carry.Reset()
	return s, true
}
