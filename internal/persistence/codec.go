// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/metnitcs/stream-webui/internal/stream/model"
)

// EncodeInput renders an input for a text column.
func EncodeInput(in model.StoredInput) (string, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encode input: %w", err)
	}
	return string(b), nil
}

// DecodeInput parses a text column written by EncodeInput or by older
// writers that stored a bare file name or array.
func DecodeInput(s string) (model.StoredInput, error) {
	var in model.StoredInput
	if s == "" {
		return in, nil
	}
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		// Plain file names were stored unquoted.
		return model.StoredInput{File: s}, nil
	}
	return in, nil
}

// EncodeIDs renders channel ids for a text column.
func EncodeIDs(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode channel ids: %w", err)
	}
	return string(b), nil
}

// DecodeIDs parses a text column written by EncodeIDs.
func DecodeIDs(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("decode channel ids: %w", err)
	}
	return ids, nil
}

// Millis converts t to the integer column representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts an integer column back to UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
