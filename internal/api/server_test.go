// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metnitcs/stream-webui/internal/credentials"
	"github.com/metnitcs/stream-webui/internal/events"
	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/persistence/memory"
	"github.com/metnitcs/stream-webui/internal/service"
	"github.com/metnitcs/stream-webui/internal/stream/engine"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

type stubEngine struct {
	mu      sync.Mutex
	started []engine.JobSpec
}

func (e *stubEngine) Start(_ context.Context, spec engine.JobSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, spec)
	return nil
}

func (e *stubEngine) Stop(context.Context, string) bool { return true }

func (e *stubEngine) Status(id string) (model.JobView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.started {
		if s.ID == id {
			return model.JobView{JobID: id, Status: model.StatusStreaming, Mode: s.Mode, DestinationCount: len(s.Destinations)}, nil
		}
	}
	return model.JobView{}, engine.ErrNotFound
}

type harness struct {
	srv     *httptest.Server
	store   *memory.Store
	eng     *stubEngine
	bus     *events.MemoryBus
	uploads string
}

func newHarness(t *testing.T, rateLimit int) *harness {
	t.Helper()
	c, err := credentials.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	h := &harness{store: memory.New(), eng: &stubEngine{}, bus: events.NewMemoryBus(), uploads: t.TempDir()}
	svc := service.New(service.Deps{
		Store:          h.store,
		Engine:         h.eng,
		Destinations:   credentials.NewResolver(h.store, c),
		Sealer:         c,
		UploadsDir:     h.uploads,
		DefaultRTMPURL: "rtmp://ingest.example/live",
	})
	s := New(Deps{Service: svc, Events: h.bus, RateLimit: rateLimit, Version: "test", KeepAlive: time.Hour})
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		h.srv.Close()
		_ = h.bus.Close()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, owner, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set(HeaderOwnerID, owner)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, respBody
}

func problemCode(t *testing.T, body []byte) string {
	t.Helper()
	var p Problem
	require.NoError(t, json.Unmarshal(body, &p), string(body))
	return p.Error
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newHarness(t, 0)

	resp, body := h.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"version":"test"`)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = h.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "stream_http_requests_in_flight")
}

func TestHealthzNotReady(t *testing.T) {
	s := New(Deps{Ready: func(context.Context) error { return errors.New("db down") }})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOwnerRequired(t *testing.T) {
	h := newHarness(t, 0)
	resp, body := h.do(t, http.MethodGet, "/channels", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", problemCode(t, body))
}

func TestChannelsCRUD(t *testing.T) {
	h := newHarness(t, 0)

	resp, body := h.do(t, http.MethodGet, "/channels", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, body = h.do(t, http.MethodPost, "/channels", "u1", `{"name":"main","streamKey":"sk-123"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.NotContains(t, string(body), "sk-123")
	var ch persistence.Channel
	require.NoError(t, json.Unmarshal(body, &ch))
	assert.Equal(t, "rtmp://ingest.example/live", ch.RTMPURL)

	resp, body = h.do(t, http.MethodPost, "/channels", "u1", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", problemCode(t, body))

	resp, _ = h.do(t, http.MethodDelete, "/channels/"+itoa(ch.ID), "u2", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.do(t, http.MethodDelete, "/channels/"+itoa(ch.ID), "u1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(t, http.MethodDelete, "/channels/abc", "u1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartStopStream(t *testing.T) {
	h := newHarness(t, 0)
	_, body := h.do(t, http.MethodPost, "/channels", "u1", `{"name":"main","streamKey":"k1"}`)
	var ch persistence.Channel
	require.NoError(t, json.Unmarshal(body, &ch))

	resp, body := h.do(t, http.MethodPost, "/stream/start", "u1",
		`{"files":"a.mp4","channelIds":[`+itoa(ch.ID)+`],"mode":"tee"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var started struct {
		OK    bool   `json:"ok"`
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(body, &started))
	assert.True(t, started.OK)
	require.Len(t, h.eng.started, 1)
	assert.Equal(t, model.ModeTee, h.eng.started[0].Mode)
	assert.Equal(t, []string{"rtmp://ingest.example/live/k1"}, h.eng.started[0].Destinations)

	resp, body = h.do(t, http.MethodGet, "/active-streams", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), started.JobID)
	assert.NotContains(t, string(body), "k1")

	resp, body = h.do(t, http.MethodGet, "/stream-health/"+started.JobID, "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"streaming"`)

	resp, _ = h.do(t, http.MethodPost, "/stream/stop", "u2", `{"jobId":"`+started.JobID+`"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/stream/stop", "u1", `{"activeStreamId":"`+started.JobID+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/stream/stop", "u1", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartStreamRejections(t *testing.T) {
	h := newHarness(t, 0)

	resp, body := h.do(t, http.MethodPost, "/stream/start", "u1", `{"files":["a.mp4"],"channelIds":[99]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_channels", problemCode(t, body))

	resp, body = h.do(t, http.MethodPost, "/stream/start", "u1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", problemCode(t, body))

	resp, body = h.do(t, http.MethodPost, "/stream/start", "u1", `{"files":{"a":1},"channelIds":[1]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", problemCode(t, body))
}

func TestSchedules(t *testing.T) {
	h := newHarness(t, 0)
	dir := filepath.Join(h.uploads, "user_u1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp4"), []byte("x"), 0o644))

	resp, body := h.do(t, http.MethodPost, "/schedules", "u1",
		`{"files":["missing.mp4"],"channelIds":[1],"startAt":"2030-01-01T10:00:00Z"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "input_not_found", problemCode(t, body))

	resp, body = h.do(t, http.MethodPost, "/schedules", "u1",
		`{"input":{"files":["a.mp4"]},"channelIds":[1],"mode":"tee","startAt":"2030-01-01T10:00:00Z"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var sc persistence.Schedule
	require.NoError(t, json.Unmarshal(body, &sc))
	assert.Equal(t, persistence.SchedulePending, sc.Status)

	resp, body = h.do(t, http.MethodGet, "/schedules", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"pending"`)

	require.NoError(t, h.store.MarkSchedule(context.Background(), sc.ID, persistence.ScheduleRunning, ""))
	resp, body = h.do(t, http.MethodDelete, "/schedules/"+itoa(sc.ID), "u1", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "schedule_running", problemCode(t, body))
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, 2)
	for i := 0; i < 2; i++ {
		resp, _ := h.do(t, http.MethodGet, "/channels", "u1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := h.do(t, http.MethodGet, "/channels", "u1", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", problemCode(t, body))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderOwnerID, "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return h.bus.Subscribers("u1") == 1 }, 2*time.Second, 10*time.Millisecond)
	h.bus.Publish(ctx, "u2", events.StatusEvent("other", model.StatusStreaming, "", time.Now()))
	h.bus.Publish(ctx, "u1", events.StatusEvent("job-1", model.StatusStreaming, "stream started", time.Now()))

	sc := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, dataLine)
	assert.Equal(t, "event: status", eventLine)

	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &ev))
	assert.Equal(t, "job-1", ev.JobID)
	assert.Equal(t, model.StatusStreaming, ev.Status)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
