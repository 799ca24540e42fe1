// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg builds encoder command lines for live fan-out.
package ffmpeg

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/metnitcs/stream-webui/internal/stream/input"
)

// EncodeProfile holds the fixed encode parameters shared by every job.
type EncodeProfile struct {
	VideoCodec   string
	Preset       string
	VideoBitrate string
	MaxRate      string
	BufSize      string
	GOP          int
	FPS          int
	AudioCodec   string
	AudioBitrate string
	SampleRate   int
	// Format is the container muxed for each destination.
	Format string
}

// DefaultProfile is the H.264/AAC FLV ladder used for RTMP ingest.
func DefaultProfile() EncodeProfile {
	return EncodeProfile{
		VideoCodec:   "libx264",
		Preset:       "veryfast",
		VideoBitrate: "3000k",
		MaxRate:      "3500k",
		BufSize:      "7000k",
		GOP:          60,
		FPS:          30,
		AudioCodec:   "aac",
		AudioBitrate: "128k",
		SampleRate:   44100,
		Format:       "flv",
	}
}

var (
	errNoDestinations = errors.New("ffmpeg: no destinations")
	errNoInput        = errors.New("ffmpeg: missing input")
)

// baseArgs is the common prefix for every invocation.
func baseArgs() []string {
	return []string{"-hide_banner", "-nostdin", "-loglevel", "info"}
}

func (p EncodeProfile) withDefaults() EncodeProfile {
	d := DefaultProfile()
	if p.VideoCodec == "" {
		p.VideoCodec = d.VideoCodec
	}
	if p.Preset == "" {
		p.Preset = d.Preset
	}
	if p.VideoBitrate == "" {
		p.VideoBitrate = d.VideoBitrate
	}
	if p.MaxRate == "" {
		p.MaxRate = d.MaxRate
	}
	if p.BufSize == "" {
		p.BufSize = d.BufSize
	}
	if p.GOP <= 0 {
		p.GOP = d.GOP
	}
	if p.FPS <= 0 {
		p.FPS = d.FPS
	}
	if p.AudioCodec == "" {
		p.AudioCodec = d.AudioCodec
	}
	if p.AudioBitrate == "" {
		p.AudioBitrate = d.AudioBitrate
	}
	if p.SampleRate <= 0 {
		p.SampleRate = d.SampleRate
	}
	if p.Format == "" {
		p.Format = d.Format
	}
	return p
}

// encodeArgs returns the stream selection and codec section of the command.
func (p EncodeProfile) encodeArgs(in *input.Resolved) []string {
	gop := strconv.Itoa(p.GOP)
	args := append([]string{}, in.Maps...)
	args = append(args,
		// Video: fixed GOP, no scene-cut keyframes, constant frame rate.
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-b:v", p.VideoBitrate,
		"-maxrate", p.MaxRate,
		"-bufsize", p.BufSize,
		"-g", gop,
		"-keyint_min", gop,
		"-sc_threshold", "0",
		"-r", strconv.Itoa(p.FPS),
		"-fps_mode", "cfr",
		"-pix_fmt", "yuv420p",

		// Audio: resync to video timestamps.
		"-c:a", p.AudioCodec,
		"-b:a", p.AudioBitrate,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", "2",
		"-af", "aresample=async=1:first_pts=0",
	)
	if in.Shortest {
		args = append(args, "-shortest")
	}
	return args
}

// BuildDestinationArgs returns the command line for one destination.
func BuildDestinationArgs(in *input.Resolved, prof EncodeProfile, dest string) ([]string, error) {
	if in == nil || len(in.Args) == 0 {
		return nil, errNoInput
	}
	if dest == "" {
		return nil, errNoDestinations
	}
	prof = prof.withDefaults()
	args := baseArgs()
	args = append(args, in.Args...)
	args = append(args, prof.encodeArgs(in)...)
	args = append(args, "-f", prof.Format, dest)
	return args, nil
}

// BuildPerChannelArgs returns one independent command line per destination.
func BuildPerChannelArgs(in *input.Resolved, prof EncodeProfile, dests []string) ([][]string, error) {
	if len(dests) == 0 {
		return nil, errNoDestinations
	}
	out := make([][]string, 0, len(dests))
	for i, d := range dests {
		args, err := BuildDestinationArgs(in, prof, d)
		if err != nil {
			return nil, fmt.Errorf("destination %d: %w", i, err)
		}
		out = append(out, args)
	}
	return out, nil
}

// BuildTeeArgs returns a single command line duplicating one encode to every
// destination through the tee muxer.
func BuildTeeArgs(in *input.Resolved, prof EncodeProfile, dests []string) ([]string, error) {
	if in == nil || len(in.Args) == 0 {
		return nil, errNoInput
	}
	if len(dests) == 0 {
		return nil, errNoDestinations
	}
	prof = prof.withDefaults()
	args := baseArgs()
	args = append(args, in.Args...)
	args = append(args, prof.encodeArgs(in)...)
	args = append(args, "-flags", "+global_header", "-f", "tee", TeeTargets(prof.Format, dests))
	return args, nil
}

// TeeTargets renders the tee sink list. A failing slave is dropped rather
// than aborting the other destinations.
func TeeTargets(format string, dests []string) string {
	parts := make([]string, len(dests))
	for i, d := range dests {
		parts[i] = "[f=" + format + ":onfail=ignore]" + escapeTee(d)
	}
	return strings.Join(parts, "|")
}

// escapeTee escapes the tee muxer's special characters within a slave URL.
func escapeTee(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `|`, `\|`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

// RedactArgs returns a copy of args safe for logging: destination URLs keep
// only scheme and host.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = redact(a)
	}
	return out
}

func redact(arg string) string {
	if strings.Contains(arg, "]") && strings.Contains(arg, "://") && strings.HasPrefix(arg, "[") {
		parts := strings.Split(arg, "|")
		for i, p := range parts {
			if j := strings.Index(p, "]"); j >= 0 {
				parts[i] = p[:j+1] + redactURL(p[j+1:])
			}
		}
		return strings.Join(parts, "|")
	}
	if strings.Contains(arg, "://") {
		return redactURL(arg)
	}
	return arg
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "<redacted>"
	}
	if u.Host == "" {
		return u.Scheme + "://<redacted>"
	}
	return u.Scheme + "://" + u.Host + "/<redacted>"
}

var urlPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s'"|\]]+`)

// RedactText replaces every URL embedded in free text, such as an encoder
// diagnostic line, with its redacted form.
func RedactText(s string) string {
	return urlPattern.ReplaceAllStringFunc(s, redactURL)
}
