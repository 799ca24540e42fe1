// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/persistence"
)

// ErrNoChannels is returned when none of the requested references resolve.
var ErrNoChannels = errors.New("no valid channels")

// ChannelLister is the slice of the store the resolver needs.
type ChannelLister interface {
	ListChannels(ctx context.Context, ownerID string) ([]persistence.Channel, error)
}

// Resolver maps channel ids onto destination URLs.
type Resolver struct {
	channels ChannelLister
	cipher   *Cipher
}

func NewResolver(channels ChannelLister, c *Cipher) *Resolver {
	return &Resolver{channels: channels, cipher: c}
}

// Resolve returns one URL per owned channel in refs, in refs order.
// References to unknown or foreign channels are skipped.
func (r *Resolver) Resolve(ctx context.Context, ownerID string, refs []int64) ([]string, error) {
	owned, err := r.channels.ListChannels(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	byID := make(map[int64]persistence.Channel, len(owned))
	for _, c := range owned {
		byID[c.ID] = c
	}

	logger := log.WithComponent("credentials")
	seen := make(map[int64]struct{}, len(refs))
	urls := make([]string, 0, len(refs))
	for _, id := range refs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c, ok := byID[id]
		if !ok {
			continue
		}
		key, err := r.cipher.Decrypt(c.StreamKeyEncrypted)
		if err != nil {
			logger.Warn().Err(err).Int64(log.FieldChannelID, c.ID).Str(log.FieldOwnerID, ownerID).Msg("skipping channel with unreadable stream key")
			continue
		}
		urls = append(urls, Destination(c.RTMPURL, key))
	}
	if len(urls) == 0 {
		return nil, ErrNoChannels
	}
	return urls, nil
}

// Destination joins an ingest base URL and a stream key.
func Destination(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
