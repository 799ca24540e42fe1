// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package input

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metnitcs/stream-webui/internal/stream/model"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	return p
}

func manifestFiles(t *testing.T, r *Resolver) []string {
	t.Helper()
	entries, err := os.ReadDir(r.ManifestDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func TestManifestContent_OrderAndEscaping(t *testing.T) {
	got := ManifestContent([]string{"/a.mp4", "/b.mp4", "/it's here.mp4"})
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "file '/a.mp4'", lines[0])
	assert.Equal(t, "file '/b.mp4'", lines[1])
	assert.Equal(t, `file '/it'\''s here.mp4'`, lines[2])
}

func TestResolve_Single(t *testing.T) {
	src := t.TempDir()
	a := touch(t, src, "a.mp4")
	r := NewResolver(t.TempDir())

	res, err := r.Resolve(model.Single(a), "job1")
	require.NoError(t, err)
	assert.Equal(t, []string{"-re", "-i", a}, res.Args)
	assert.Empty(t, res.Manifests)
	assert.False(t, res.Shortest)
}

func TestResolve_PlaylistWritesManifest(t *testing.T) {
	src := t.TempDir()
	a := touch(t, src, "a.mp4")
	b := touch(t, src, "b.mp4")
	r := NewResolver(t.TempDir())

	res, err := r.Resolve(model.Playlist(a, b), "job-7")
	require.NoError(t, err)
	require.Len(t, res.Manifests, 1)

	manifest := res.Manifests[0]
	assert.Equal(t, r.ManifestPath("job-7", ""), manifest)
	assert.Equal(t, concatInput(manifest), res.Args)

	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Equal(t, "file '"+a+"'\nfile '"+b+"'\n", string(data))

	require.NoError(t, res.Release())
	_, err = os.Stat(manifest)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	require.NoError(t, res.Release(), "second release is a no-op")
}

func TestResolve_MultiTrackDirect(t *testing.T) {
	src := t.TempDir()
	v := touch(t, src, "v.mp4")
	a := touch(t, src, "a.mp3")
	r := NewResolver(t.TempDir())

	res, err := r.Resolve(model.MultiTrack([]string{v}, []string{a}), "mt")
	require.NoError(t, err)
	assert.Equal(t, []string{"-stream_loop", "-1", "-re", "-i", v, "-re", "-i", a}, res.Args)
	assert.Equal(t, []string{"-map", "0:v:0", "-map", "1:a:0"}, res.Maps)
	assert.True(t, res.Shortest)
	assert.Empty(t, res.Manifests)
}

func TestResolve_MultiTrackManifests(t *testing.T) {
	src := t.TempDir()
	v1 := touch(t, src, "v1.mp4")
	v2 := touch(t, src, "v2.mp4")
	a1 := touch(t, src, "a1.mp3")
	a2 := touch(t, src, "a2.mp3")
	r := NewResolver(t.TempDir())

	res, err := r.Resolve(model.MultiTrack([]string{v1, v2}, []string{a1, a2}), "mt2")
	require.NoError(t, err)
	require.Len(t, res.Manifests, 2)
	assert.Equal(t, r.ManifestPath("mt2", "video"), res.Manifests[0])
	assert.Equal(t, r.ManifestPath("mt2", "audio"), res.Manifests[1])

	video, err := os.ReadFile(res.Manifests[0])
	require.NoError(t, err)
	assert.Equal(t, ManifestContent([]string{v1, v2}), string(video))
	assert.Contains(t, strings.Join(res.Args, " "), "-stream_loop -1 -re -f concat -safe 0 -i "+res.Manifests[0])
}

func TestResolve_MissingFileFailsBeforeWriting(t *testing.T) {
	src := t.TempDir()
	a := touch(t, src, "a.mp4")
	missing := filepath.Join(src, "missing.mp4")

	specs := map[string]model.InputSpec{
		"single":     model.Single(missing),
		"playlist":   model.Playlist(a, missing),
		"multitrack": model.MultiTrack([]string{a, a}, []string{a, missing}),
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			r := NewResolver(t.TempDir())
			res, err := r.Resolve(spec, "job")
			require.Error(t, err)
			assert.Nil(t, res)

			var rerr *ResolutionError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, missing, rerr.Path)
			assert.ErrorIs(t, err, fs.ErrNotExist)
			assert.Contains(t, err.Error(), missing)
			assert.Empty(t, manifestFiles(t, r), "no manifest may be left behind")
		})
	}
}

func TestResolve_DirectoryIsRejected(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver(t.TempDir())

	_, err := r.Resolve(model.Single(dir), "job")
	assert.ErrorIs(t, err, ErrNotRegular)
}

func TestManifestPath_SanitizesJobID(t *testing.T) {
	r := NewResolver("/work")
	assert.Equal(t, filepath.Join("/work", "manifests", "playlist____x.txt"), r.ManifestPath("../x", ""))
}
