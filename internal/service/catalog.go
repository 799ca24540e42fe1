// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

// ChannelRequest creates a destination.
type ChannelRequest struct {
	Name      string `json:"name"`
	Platform  string `json:"platform"`
	RTMPURL   string `json:"rtmpUrl"`
	StreamKey string `json:"streamKey"`
}

// ScheduleRequest plans a stream.
type ScheduleRequest struct {
	Title      string            `json:"title"`
	Input      model.StoredInput `json:"input"`
	ChannelIDs []int64           `json:"channelIds"`
	Mode       model.FanoutMode  `json:"mode"`
	StartAt    time.Time         `json:"startAt"`
}

func (s *Service) ListChannels(ctx context.Context, ownerID string) ([]persistence.Channel, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.store.ListChannels(ctx, ownerID)
}

// CreateChannel stores a destination with its stream key sealed.
func (s *Service) CreateChannel(ctx context.Context, ownerID string, req ChannelRequest) (persistence.Channel, error) {
	if err := requireOwner(ownerID); err != nil {
		return persistence.Channel{}, err
	}
	name := strings.TrimSpace(req.Name)
	key := strings.TrimSpace(req.StreamKey)
	if name == "" || key == "" {
		return persistence.Channel{}, fmt.Errorf("%w: name and streamKey are required", ErrInvalidInput)
	}
	url := strings.TrimSpace(req.RTMPURL)
	if url == "" {
		url = s.defaultURL
	}
	if url == "" {
		return persistence.Channel{}, fmt.Errorf("%w: rtmpUrl is required", ErrInvalidInput)
	}

	n, err := s.store.CountChannels(ctx, ownerID)
	if err != nil {
		return persistence.Channel{}, err
	}
	if n >= MaxChannelsPerOwner {
		return persistence.Channel{}, ErrChannelLimit
	}

	sealed, err := s.sealer.Encrypt(key)
	if err != nil {
		return persistence.Channel{}, fmt.Errorf("seal stream key: %w", err)
	}
	platform := strings.TrimSpace(req.Platform)
	if platform == "" {
		platform = "youtube"
	}
	c := persistence.Channel{
		OwnerID:            ownerID,
		Name:               name,
		Platform:           platform,
		RTMPURL:            url,
		StreamKeyEncrypted: sealed,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.store.CreateChannel(ctx, &c); err != nil {
		return persistence.Channel{}, err
	}
	return c, nil
}

func (s *Service) DeleteChannel(ctx context.Context, ownerID string, id int64) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	return s.store.DeleteChannel(ctx, ownerID, id)
}

func (s *Service) ListSchedules(ctx context.Context, ownerID string) ([]persistence.Schedule, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.store.ListSchedules(ctx, ownerID)
}

// CreateSchedule validates the input files and stores a pending schedule.
func (s *Service) CreateSchedule(ctx context.Context, ownerID string, req ScheduleRequest) (persistence.Schedule, error) {
	if err := requireOwner(ownerID); err != nil {
		return persistence.Schedule{}, err
	}
	if req.Input.IsEmpty() || len(req.ChannelIDs) == 0 || req.StartAt.IsZero() {
		return persistence.Schedule{}, fmt.Errorf("%w: input, channelIds and startAt are required", ErrInvalidInput)
	}
	if _, err := req.Input.Normalize(model.UploadResolver(s.uploads, ownerID)); err != nil {
		return persistence.Schedule{}, err
	}
	if err := s.checkUploads(ownerID, req.Input); err != nil {
		return persistence.Schedule{}, err
	}

	sc := persistence.Schedule{
		OwnerID:    ownerID,
		Title:      strings.TrimSpace(req.Title),
		Input:      req.Input,
		ChannelIDs: req.ChannelIDs,
		Mode:       model.ParseFanoutMode(string(req.Mode)),
		StartAt:    req.StartAt.UTC(),
		Status:     persistence.SchedulePending,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateSchedule(ctx, &sc); err != nil {
		return persistence.Schedule{}, err
	}
	logger := log.WithComponent("service")
	logger.Info().Int64(log.FieldScheduleID, sc.ID).Str(log.FieldOwnerID, ownerID).Time("start_at", sc.StartAt).Msg("schedule created")
	return sc, nil
}

// DeleteSchedule removes a schedule that is not running.
func (s *Service) DeleteSchedule(ctx context.Context, ownerID string, id int64) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	sc, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if sc.OwnerID != ownerID {
		return ErrNotFound
	}
	if sc.Status == persistence.ScheduleRunning {
		return ErrScheduleRunning
	}
	if err := s.store.DeleteSchedule(ctx, ownerID, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
