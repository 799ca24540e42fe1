// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// InputKind tags the InputSpec variant.
type InputKind string

const (
	InputSingle     InputKind = "single"
	InputPlaylist   InputKind = "playlist"
	InputMultiTrack InputKind = "multitrack"
)

// InputSpec is the declarative encoder input. Exactly one variant is
// populated, selected by Kind:
//
//	single:     Path
//	playlist:   Paths (concatenated in order)
//	multitrack: VideoPaths + AudioPaths (video looped, cut to audio length)
type InputSpec struct {
	Kind       InputKind `json:"kind"`
	Path       string    `json:"path,omitempty"`
	Paths      []string  `json:"paths,omitempty"`
	VideoPaths []string  `json:"videoPaths,omitempty"`
	AudioPaths []string  `json:"audioPaths,omitempty"`
}

// Single builds a single-file input.
func Single(path string) InputSpec {
	return InputSpec{Kind: InputSingle, Path: path}
}

// Playlist builds an ordered concatenation input.
func Playlist(paths ...string) InputSpec {
	return InputSpec{Kind: InputPlaylist, Paths: append([]string(nil), paths...)}
}

// MultiTrack builds an input of independent video and audio tracks.
func MultiTrack(video, audio []string) InputSpec {
	return InputSpec{
		Kind:       InputMultiTrack,
		VideoPaths: append([]string(nil), video...),
		AudioPaths: append([]string(nil), audio...),
	}
}

// AllPaths lists every referenced path in resolution order.
func (s InputSpec) AllPaths() []string {
	switch s.Kind {
	case InputSingle:
		return []string{s.Path}
	case InputPlaylist:
		return append([]string(nil), s.Paths...)
	case InputMultiTrack:
		out := make([]string, 0, len(s.VideoPaths)+len(s.AudioPaths))
		out = append(out, s.VideoPaths...)
		return append(out, s.AudioPaths...)
	}
	return nil
}

// Validate checks the variant invariants (not file existence).
func (s InputSpec) Validate() error {
	switch s.Kind {
	case InputSingle:
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("%w: single input requires a path", ErrInvalidInput)
		}
	case InputPlaylist:
		if len(s.Paths) == 0 {
			return fmt.Errorf("%w: playlist requires at least one path", ErrInvalidInput)
		}
	case InputMultiTrack:
		if len(s.VideoPaths) == 0 || len(s.AudioPaths) == 0 {
			return fmt.Errorf("%w: multitrack requires video and audio paths", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown input kind %q", ErrInvalidInput, s.Kind)
	}
	for _, p := range s.AllPaths() {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: empty path", ErrInvalidInput)
		}
	}
	return nil
}

// ErrInvalidInput marks a malformed input description.
var ErrInvalidInput = errors.New("invalid input")

// StoredInput is the loose shape accepted from clients and kept in
// persistence: a file list, a legacy single file, a video/audio track pair,
// or a bare JSON string holding one file name.
type StoredInput struct {
	Files      []string `json:"files,omitempty"`
	File       string   `json:"file,omitempty"`
	VideoFiles []string `json:"videoFiles,omitempty"`
	AudioFiles []string `json:"audioFiles,omitempty"`
}

// UnmarshalJSON accepts the object form, a bare string, or a bare array.
func (in *StoredInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*in = StoredInput{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = StoredInput{File: s}
		return nil
	case '[':
		var files []string
		if err := json.Unmarshal(data, &files); err != nil {
			return err
		}
		*in = StoredInput{Files: files}
		return nil
	}
	type plain StoredInput
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*in = StoredInput(p)
	return nil
}

// IsEmpty reports whether no file is referenced at all.
func (in StoredInput) IsEmpty() bool {
	return len(in.Files) == 0 && strings.TrimSpace(in.File) == "" &&
		len(in.VideoFiles) == 0 && len(in.AudioFiles) == 0
}

// Names lists every referenced file name.
func (in StoredInput) Names() []string {
	var out []string
	out = append(out, in.Files...)
	if in.File != "" {
		out = append(out, in.File)
	}
	out = append(out, in.VideoFiles...)
	return append(out, in.AudioFiles...)
}

// Normalize turns the stored shape into exactly one InputSpec variant.
// resolve maps a stored file name onto a filesystem path.
func (in StoredInput) Normalize(resolve func(name string) (string, error)) (InputSpec, error) {
	if resolve == nil {
		resolve = func(name string) (string, error) { return name, nil }
	}
	mapAll := func(names []string) ([]string, error) {
		out := make([]string, 0, len(names))
		for _, n := range names {
			p, err := resolve(n)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}

	if len(in.VideoFiles) > 0 || len(in.AudioFiles) > 0 {
		if len(in.VideoFiles) == 0 || len(in.AudioFiles) == 0 {
			return InputSpec{}, fmt.Errorf("%w: videoFiles and audioFiles must both be set", ErrInvalidInput)
		}
		video, err := mapAll(in.VideoFiles)
		if err != nil {
			return InputSpec{}, err
		}
		audio, err := mapAll(in.AudioFiles)
		if err != nil {
			return InputSpec{}, err
		}
		return MultiTrack(video, audio), nil
	}

	files := in.Files
	if len(files) == 0 && strings.TrimSpace(in.File) != "" {
		files = []string{in.File}
	}
	switch len(files) {
	case 0:
		return InputSpec{}, fmt.Errorf("%w: no input files", ErrInvalidInput)
	case 1:
		p, err := resolve(files[0])
		if err != nil {
			return InputSpec{}, err
		}
		return Single(p), nil
	}
	paths, err := mapAll(files)
	if err != nil {
		return InputSpec{}, err
	}
	return Playlist(paths...), nil
}

// foldsToPath reports whether compatibility normalization turns name into a
// path, e.g. full-width dots or solidus.
func foldsToPath(name string) bool {
	folded := norm.NFKC.String(name)
	return folded == "." || folded == ".." || strings.ContainsAny(folded, `/\`) || strings.ContainsRune(folded, 0)
}

// UploadResolver resolves stored file names inside an owner's upload
// directory. Names must be plain base names.
func UploadResolver(uploadsDir, ownerID string) func(string) (string, error) {
	dir := filepath.Join(uploadsDir, "user_"+ownerID)
	return func(name string) (string, error) {
		name = strings.TrimSpace(name)
		if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) || foldsToPath(name) {
			return "", fmt.Errorf("%w: illegal file name %q", ErrInvalidInput, name)
		}
		return filepath.Join(dir, name), nil
	}
}
