// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/service"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

// streamBody accepts the current {"input": {...}} form as well as the flat
// files/file/videoFiles/audioFiles fields older clients send.
type streamBody struct {
	Input      *model.StoredInput `json:"input"`
	Files      json.RawMessage    `json:"files"`
	File       string             `json:"file"`
	VideoFiles []string           `json:"videoFiles"`
	AudioFiles []string           `json:"audioFiles"`
	ChannelIDs []int64            `json:"channelIds"`
	Mode       string             `json:"mode"`
	Title      string             `json:"title"`
	StartAt    time.Time          `json:"startAt"`
}

func (b streamBody) storedInput() (model.StoredInput, error) {
	if b.Input != nil {
		return *b.Input, nil
	}
	in := model.StoredInput{File: b.File, VideoFiles: b.VideoFiles, AudioFiles: b.AudioFiles}
	if len(b.Files) > 0 {
		var files model.StoredInput
		if err := json.Unmarshal(b.Files, &files); err != nil {
			return in, fmt.Errorf("%w: files must be a string or a list", service.ErrInvalidInput)
		}
		in.Files = files.Names()
	}
	return in, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", service.ErrInvalidInput)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad id", service.ErrInvalidInput)
	}
	return id, nil
}

func baseName(p string) string {
	return filepath.Base(p)
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	var body streamBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := body.storedInput()
	if err != nil {
		writeError(w, r, err)
		return
	}
	owner := ownerFromContext(r.Context())
	jobID, err := s.svc.StartStream(r.Context(), owner, service.StartRequest{
		Input:      in,
		ChannelIDs: body.ChannelIDs,
		Mode:       model.ParseFanoutMode(body.Mode),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobId": jobID})
}

func (s *Server) handleStopStream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobID string `json:"jobId"`
		// ActiveStreamID is the legacy name of JobID.
		ActiveStreamID json.RawMessage `json:"activeStreamId"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	id := body.JobID
	if id == "" && len(body.ActiveStreamID) > 0 {
		id = strings.Trim(string(body.ActiveStreamID), `"`)
	}
	if id == "" {
		writeError(w, r, fmt.Errorf("%w: jobId required", service.ErrInvalidInput))
		return
	}
	if err := s.svc.StopStream(r.Context(), ownerFromContext(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleActiveStreams(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ActiveStreams(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleStreamHealth(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.StreamHealth(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListChannels(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []persistence.Channel{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req service.ChannelRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.svc.CreateChannel(r.Context(), ownerFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.DeleteChannel(r.Context(), ownerFromContext(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListSchedules(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []persistence.Schedule{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var body streamBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := body.storedInput()
	if err != nil {
		writeError(w, r, err)
		return
	}
	sc, err := s.svc.CreateSchedule(r.Context(), ownerFromContext(r.Context()), service.ScheduleRequest{
		Title:      body.Title,
		Input:      in,
		ChannelIDs: body.ChannelIDs,
		Mode:       model.ParseFanoutMode(body.Mode),
		StartAt:    body.StartAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.DeleteSchedule(r.Context(), ownerFromContext(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
