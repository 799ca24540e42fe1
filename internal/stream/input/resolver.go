// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package input turns an InputSpec into encoder input arguments, writing
// concatenation manifests for multi-file inputs.
package input

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

// ResolutionError reports a referenced input that is not usable.
type ResolutionError struct {
	Path string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("input not found: %s: %v", e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ErrNotRegular is wrapped by ResolutionError when a path names a directory or device.
var ErrNotRegular = errors.New("not a regular file")

// Resolved holds the concrete encoder input for one job.
type Resolved struct {
	// Args are the input-side arguments, including the realtime read flag.
	Args []string
	// Maps select the streams fed to the encoder.
	Maps []string
	// Shortest cuts the output at the end of the shortest mapped stream.
	Shortest bool
	// Manifests are the generated files owned by the job.
	Manifests []string
}

// Release removes every manifest owned by r. It is safe to call repeatedly.
func (r *Resolved) Release() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, p := range r.Manifests {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	r.Manifests = nil
	return errors.Join(errs...)
}

// Resolver validates inputs and writes job-scoped manifests below WorkDir.
type Resolver struct {
	WorkDir string
}

// NewResolver creates a resolver writing manifests to <workDir>/manifests.
func NewResolver(workDir string) *Resolver {
	return &Resolver{WorkDir: workDir}
}

// ManifestDir is the directory holding generated manifests.
func (r *Resolver) ManifestDir() string {
	return filepath.Join(r.WorkDir, "manifests")
}

// ManifestPath returns the manifest location for a job and track suffix.
func (r *Resolver) ManifestPath(jobID, track string) string {
	name := "playlist_" + sanitizeID(jobID)
	if track != "" {
		name += "_" + track
	}
	return filepath.Join(r.ManifestDir(), name+".txt")
}

// Resolve validates every path of spec and builds the encoder input. All files
// are checked before anything is written, and manifests already written are
// removed if a later step fails.
func (r *Resolver) Resolve(spec model.InputSpec, jobID string) (*Resolved, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	for _, p := range spec.AllPaths() {
		if err := checkFile(p); err != nil {
			return nil, err
		}
	}

	res := &Resolved{Maps: []string{"-map", "0:v:0", "-map", "0:a:0?"}}
	switch spec.Kind {
	case model.InputSingle:
		res.Args = []string{"-re", "-i", spec.Path}

	case model.InputPlaylist:
		manifest := r.ManifestPath(jobID, "")
		if err := r.writeManifest(manifest, spec.Paths); err != nil {
			return nil, err
		}
		res.Manifests = append(res.Manifests, manifest)
		res.Args = concatInput(manifest)

	case model.InputMultiTrack:
		video, err := r.trackInput(res, jobID, "video", spec.VideoPaths)
		if err != nil {
			_ = res.Release()
			return nil, err
		}
		audio, err := r.trackInput(res, jobID, "audio", spec.AudioPaths)
		if err != nil {
			_ = res.Release()
			return nil, err
		}
		res.Args = append([]string{"-stream_loop", "-1"}, video...)
		res.Args = append(res.Args, audio...)
		res.Maps = []string{"-map", "0:v:0", "-map", "1:a:0"}
		res.Shortest = true
	}

	logger := log.WithComponent("input")
	logger.Debug().
		Str(log.FieldJobID, jobID).
		Str("kind", string(spec.Kind)).
		Int("paths", len(spec.AllPaths())).
		Int("manifests", len(res.Manifests)).
		Msg("input resolved")
	return res, nil
}

// trackInput returns the input arguments for one track: a direct file when
// the track has one path, a concat manifest otherwise.
func (r *Resolver) trackInput(res *Resolved, jobID, track string, paths []string) ([]string, error) {
	if len(paths) == 1 {
		return []string{"-re", "-i", paths[0]}, nil
	}
	manifest := r.ManifestPath(jobID, track)
	if err := r.writeManifest(manifest, paths); err != nil {
		return nil, err
	}
	res.Manifests = append(res.Manifests, manifest)
	return concatInput(manifest), nil
}

func (r *Resolver) writeManifest(path string, files []string) error {
	// #nosec G301 -- manifests are read by the encoder running as the same user
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	if err := writeFileAtomic(path, []byte(ManifestContent(files))); err != nil {
		return fmt.Errorf("write manifest %s: %w", filepath.Base(path), err)
	}
	return nil
}

func concatInput(manifest string) []string {
	return []string{"-re", "-f", "concat", "-safe", "0", "-i", manifest}
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ResolutionError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &ResolutionError{Path: path, Err: ErrNotRegular}
	}
	return nil
}

// ManifestContent renders a concat demuxer list: one `file '<path>'` line per
// input, in order, with embedded single quotes escaped as '\''.
func ManifestContent(files []string) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(f, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
