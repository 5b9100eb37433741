/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-chat-go/internal/audio"
)

const (
	// DefaultReportInterval matches a 20 Hz meter refresh
	DefaultReportInterval = 50 * time.Millisecond
	// DefaultHeartbeatInterval keeps idle hub sessions alive
	DefaultHeartbeatInterval = 30 * time.Second
)

// FramePublisher delivers frames to a telemetry sink
type FramePublisher interface {
	Publish(ctx context.Context, frameType FrameType, data []byte) error
	Close() error
}

// LevelSource is the read-only view of the engine the reporter samples.
// *audio.AudioEngine satisfies it.
type LevelSource interface {
	InputLevel() float32
	OutputLevel() float32
	State() audio.SessionState
}

// LevelReporter samples a LevelSource on the control side and publishes Levels
// frames, Status frames on session state changes, and periodic heartbeats.
type LevelReporter struct {
	source            LevelSource
	peaks             *audio.PeakHold
	publisher         FramePublisher
	clientID          string
	interval          time.Duration
	heartbeatInterval time.Duration
	logger            *zap.SugaredLogger

	sent     atomic.Uint64
	failures atomic.Uint64
}

// NewLevelReporter creates a reporter. peaks may be nil; when set it should be
// installed as the engine's level observer and is reset on every report.
// A non-positive interval selects DefaultReportInterval.
func NewLevelReporter(source LevelSource, peaks *audio.PeakHold, publisher FramePublisher, clientID string, interval time.Duration, logger *zap.SugaredLogger) *LevelReporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}

	return &LevelReporter{
		source:            source,
		peaks:             peaks,
		publisher:         publisher,
		clientID:          clientID,
		interval:          interval,
		heartbeatInterval: DefaultHeartbeatInterval,
		logger:            logger.Named("telemetry"),
	}
}

// SetHeartbeatInterval overrides the heartbeat period; call before Run
func (r *LevelReporter) SetHeartbeatInterval(interval time.Duration) {
	r.heartbeatInterval = interval
}

// Snapshot reads the current levels and drains the held peaks
func (r *LevelReporter) Snapshot() LevelPayload {
	payload := LevelPayload{
		InputLevel:  r.source.InputLevel(),
		OutputLevel: r.source.OutputLevel(),
		State:       r.source.State(),
	}

	if r.peaks != nil {
		payload.InputPeak, payload.OutputPeak = r.peaks.Reset()
	}

	// a peak never reads below the level it was taken with
	payload.InputPeak = max(payload.InputPeak, payload.InputLevel)
	payload.OutputPeak = max(payload.OutputPeak, payload.OutputLevel)
	return payload
}

// Run reports until ctx is cancelled. It returns an error only if the
// initial handshake cannot be delivered.
func (r *LevelReporter) Run(ctx context.Context) error {
	handshake := fmt.Sprintf("client:%s", r.clientID)
	if err := r.publisher.Publish(ctx, FrameTypeHandshake, []byte(handshake)); err != nil {
		return fmt.Errorf("failed to send telemetry handshake: %w", err)
	}

	r.logger.Infow("📡 Level telemetry started", "interval", r.interval, "client", r.clientID)

	reportTicker := time.NewTicker(r.interval)
	defer reportTicker.Stop()

	heartbeatTicker := time.NewTicker(r.heartbeatInterval)
	defer heartbeatTicker.Stop()

	lastState := r.source.State()
	failing := false

	for {
		select {
		case <-ctx.Done():
			r.logger.Infow("📡 Level telemetry stopped", "sent", r.sent.Load(), "failures", r.failures.Load())
			return nil

		case <-reportTicker.C:
			payload := r.Snapshot()

			if payload.State != lastState {
				r.publish(ctx, FrameTypeStatus, []byte(payload.State.String()), &failing)
				lastState = payload.State
			}

			data, err := payload.MarshalBinary()
			if err != nil {
				r.logger.Errorw("Failed to encode level payload", "error", err)
				continue
			}
			r.publish(ctx, FrameTypeLevels, data, &failing)

		case <-heartbeatTicker.C:
			r.publish(ctx, FrameTypeHeartbeat, nil, &failing)
		}
	}
}

// publish sends one frame, logging only the first failure of a run of failures
func (r *LevelReporter) publish(ctx context.Context, frameType FrameType, data []byte, failing *bool) {
	if err := r.publisher.Publish(ctx, frameType, data); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failures.Inc()
		if !*failing {
			r.logger.Warnw("⚠️ Failed to publish telemetry frame", "type", frameType, "error", err)
			*failing = true
		}
		return
	}

	if *failing {
		r.logger.Infow("✅ Telemetry publishing recovered")
		*failing = false
	}
	r.sent.Inc()
}

// Sent returns the number of frames delivered after the handshake
func (r *LevelReporter) Sent() uint64 {
	return r.sent.Load()
}

// Failures returns the number of frames that could not be delivered
func (r *LevelReporter) Failures() uint64 {
	return r.failures.Load()
}
