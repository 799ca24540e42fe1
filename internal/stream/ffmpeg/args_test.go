// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metnitcs/stream-webui/internal/stream/input"
)

func single() *input.Resolved {
	return &input.Resolved{
		Args: []string{"-re", "-i", "/media/a.mp4"},
		Maps: []string{"-map", "0:v:0", "-map", "0:a:0?"},
	}
}

func TestBuildDestinationArgs(t *testing.T) {
	args, err := BuildDestinationArgs(single(), DefaultProfile(), "rtmp://live.example/app/key")
	require.NoError(t, err)

	want := []string{
		"-hide_banner", "-nostdin", "-loglevel", "info",
		"-re", "-i", "/media/a.mp4",
		"-map", "0:v:0", "-map", "0:a:0?",
		"-c:v", "libx264", "-preset", "veryfast",
		"-b:v", "3000k", "-maxrate", "3500k", "-bufsize", "7000k",
		"-g", "60", "-keyint_min", "60", "-sc_threshold", "0",
		"-r", "30", "-fps_mode", "cfr", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k", "-ar", "44100", "-ac", "2",
		"-af", "aresample=async=1:first_pts=0",
		"-f", "flv", "rtmp://live.example/app/key",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildPerChannelArgs(t *testing.T) {
	dests := []string{"rtmp://a/x/1", "rtmp://b/x/2", "rtmp://c/x/3"}
	all, err := BuildPerChannelArgs(single(), EncodeProfile{}, dests)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, args := range all {
		assert.Equal(t, dests[i], args[len(args)-1])
		assert.Equal(t, "flv", args[len(args)-2])
	}

	_, err = BuildPerChannelArgs(single(), EncodeProfile{}, nil)
	assert.Error(t, err)
}

func TestBuildTeeArgs(t *testing.T) {
	in := &input.Resolved{
		Args: []string{"-re", "-f", "concat", "-safe", "0", "-i", "/work/manifests/playlist_j.txt"},
		Maps: []string{"-map", "0:v:0", "-map", "0:a:0?"},
	}
	dests := []string{"rtmp://a/x/1", "rtmp://b/x/2", "rtmp://c/x/3"}
	args, err := BuildTeeArgs(in, DefaultProfile(), dests)
	require.NoError(t, err)

	sink := args[len(args)-1]
	assert.Equal(t, "tee", args[len(args)-2])
	assert.Equal(t, "[f=flv:onfail=ignore]rtmp://a/x/1|[f=flv:onfail=ignore]rtmp://b/x/2|[f=flv:onfail=ignore]rtmp://c/x/3", sink)
	assert.Contains(t, args, "-map")
	assert.Contains(t, strings.Join(args, " "), "+global_header")
}

func TestBuildArgs_Shortest(t *testing.T) {
	in := &input.Resolved{
		Args:     []string{"-stream_loop", "-1", "-re", "-i", "/v.mp4", "-re", "-i", "/a.mp3"},
		Maps:     []string{"-map", "0:v:0", "-map", "1:a:0"},
		Shortest: true,
	}
	args, err := BuildDestinationArgs(in, DefaultProfile(), "rtmp://a/b")
	require.NoError(t, err)
	assert.Contains(t, args, "-shortest")
}

func TestBuildArgs_MissingInput(t *testing.T) {
	_, err := BuildDestinationArgs(nil, DefaultProfile(), "rtmp://a/b")
	assert.Error(t, err)
	_, err = BuildTeeArgs(&input.Resolved{}, DefaultProfile(), []string{"rtmp://a/b"})
	assert.Error(t, err)
}

func TestTeeTargets_Escapes(t *testing.T) {
	got := TeeTargets("flv", []string{"rtmp://a/x?a=1|b", "rtmp://b/[k]"})
	assert.Equal(t, `[f=flv:onfail=ignore]rtmp://a/x?a=1\|b|[f=flv:onfail=ignore]rtmp://b/\[k\]`, got)
}

func TestRedactArgs(t *testing.T) {
	args := []string{
		"-i", "/media/a.mp4",
		"-f", "flv", "rtmp://live.example/app/secret-key",
		TeeTargets("flv", []string{"rtmp://a.example/live/k1", "rtmps://b.example:443/app/k2"}),
	}
	got := RedactArgs(args)
	assert.Equal(t, "/media/a.mp4", got[1])
	assert.Equal(t, "rtmp://live.example/<redacted>", got[4])
	assert.Equal(t, "[f=flv:onfail=ignore]rtmp://a.example/<redacted>|[f=flv:onfail=ignore]rtmps://b.example:443/<redacted>", got[5])
	assert.NotContains(t, strings.Join(got, " "), "secret-key")
	assert.Equal(t, "rtmp://live.example/app/secret-key", args[4])
}

func TestRedactText(t *testing.T) {
	line := "Output #0, flv, to 'rtmp://a.rtmp.youtube.com/live2/abcd-efgh':"
	assert.Equal(t, "Output #0, flv, to 'rtmp://a.rtmp.youtube.com/<redacted>':", RedactText(line))
	assert.Equal(t, "no urls here", RedactText("no urls here"))
}
