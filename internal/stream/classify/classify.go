// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package classify infers job health from encoder diagnostic text. It is a
// best-effort substring matcher; the encoder emits no structured output.
package classify

import (
	"strings"

	"github.com/metnitcs/stream-webui/internal/stream/model"
)

// Finding is the result of classifying one piece of diagnostic text.
type Finding struct {
	// Started is set when the text carries a successful output negotiation marker.
	Started bool
	// Kind is the highest-priority advisory error matched, or "".
	Kind model.ErrorKind
	// Match is the pattern that produced Kind.
	Match string
}

// Empty reports whether nothing was recognised.
func (f Finding) Empty() bool {
	return !f.Started && f.Kind == ""
}

var startMarkers = []string{
	"output #0",
	"press [q] to stop",
	"stream mapping:",
}

type rule struct {
	kind     model.ErrorKind
	patterns []string
	// all lists substrings that must additionally appear in the text
	all []string
}

// Rules in priority order. The first match wins.
var rules = []rule{
	{kind: model.KindNetwork, patterns: []string{
		"network is unreachable",
		"connection refused",
		"connection timed out",
		"no route to host",
		"connection reset by peer",
	}},
	{kind: model.KindRTMP, patterns: []string{
		"rtmp_connect",
		"rtmp_sendpacket",
		"rtmp server returned error",
		"handshake failed",
	}},
	{kind: model.KindRTMP, patterns: []string{"rtmp"}, all: []string{"error"}},
	{kind: model.KindRTMP, patterns: []string{"rtmp"}, all: []string{"fail"}},
	// Status codes only count with their reason phrase; progress lines carry
	// bare digit runs such as frame=1401.
	{kind: model.KindAuth, patterns: []string{
		"401 unauthorized",
		"http error 401",
		"403 forbidden",
		"http error 403",
		"unauthorized",
		"authentication failed",
		"invalid stream key",
		"stream key is invalid",
	}},
	{kind: model.KindDisk, patterns: []string{
		"no space left on device",
		"disk quota exceeded",
		"disk full",
	}},
}

// Classify inspects text case-insensitively.
func Classify(text string) Finding {
	lower := strings.ToLower(text)
	var f Finding
	for _, m := range startMarkers {
		if strings.Contains(lower, m) {
			f.Started = true
			break
		}
	}
	for _, r := range rules {
		if p, ok := r.match(lower); ok {
			f.Kind = r.kind
			f.Match = p
			break
		}
	}
	return f
}

func (r rule) match(lower string) (string, bool) {
	for _, extra := range r.all {
		if !strings.Contains(lower, extra) {
			return "", false
		}
	}
	for _, p := range r.patterns {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}
