// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !windows

package input

import (
	"fmt"

	"github.com/google/renameio/v2"

	"github.com/metnitcs/stream-webui/internal/log"
)

// writeFileAtomic writes data through a pending file so the encoder never
// observes a half-written manifest.
func writeFileAtomic(path string, data []byte) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			log.L().Debug().Err(err).Msg("cleanup pending manifest")
		}
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return err
	}
	return pendingFile.CloseAtomicallyReplace()
}
