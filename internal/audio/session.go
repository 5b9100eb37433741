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

package audio

import (
	"errors"
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// FramesPerPeriod is the fixed number of frames delivered per callback
	FramesPerPeriod = 256
	// InputChannels is the capture channel count (mono)
	InputChannels = 1
	// OutputChannels is the playback channel count (stereo)
	OutputChannels = 2
	// DefaultSampleRate is used when the caller does not choose a rate
	DefaultSampleRate = 44100
)

// SessionState is the lifecycle state of a StreamSession
type SessionState int32

const (
	StateClosed SessionState = iota
	StateOpen
	StateRunning
)

func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// StreamConfig describes the duplex stream bound by a session.
// Sample format is always interleaved 32-bit float.
type StreamConfig struct {
	DeviceID        int
	SampleRate      int
	FramesPerPeriod int
	InputChannels   int
	OutputChannels  int
}

// NewStreamConfig returns the engine's fixed stream layout for a device and rate
func NewStreamConfig(deviceID, sampleRate int) StreamConfig {
	return StreamConfig{
		DeviceID:        deviceID,
		SampleRate:      sampleRate,
		FramesPerPeriod: FramesPerPeriod,
		InputChannels:   InputChannels,
		OutputChannels:  OutputChannels,
	}
}

// StreamSession exclusively owns at most one backend stream.
//
//	Closed --Open--> Open --Start--> Running --Stop--> Open
//	any --Close--> Closed
//
// All methods except the dispatch path are for the control goroutine only.
type StreamSession struct {
	backend AudioBackend
	logger  *zap.SugaredLogger

	state    atomic.Int32
	config   StreamConfig
	stream   StreamInterface
	callback StreamCallback

	// orphans are streams whose Close failed. They still hold their devices,
	// so Close and Open retry releasing them.
	orphans []StreamInterface

	// gate is open only while Running; the driver thread checks it before
	// dispatching so nothing runs the callback once Stop has begun
	gate atomic.Bool
}

// NewStreamSession creates a closed session over backend
func NewStreamSession(backend AudioBackend, logger *zap.SugaredLogger) *StreamSession {
	return &StreamSession{
		backend: backend,
		logger:  logger.Named("session"),
	}
}

// State returns the current lifecycle state
func (s *StreamSession) State() SessionState {
	return SessionState(s.state.Load())
}

// Config returns the configuration of the bound stream. Only meaningful when not Closed.
func (s *StreamSession) Config() StreamConfig {
	return s.config
}

// Open releases any bound stream, then binds a new one. On failure the session
// is Closed and the error is a *DeviceOpenError.
func (s *StreamSession) Open(cfg StreamConfig, callback StreamCallback) error {
	if err := s.Close(); err != nil {
		s.logger.Warnw("Failed to release previous stream cleanly", "error", err)
	}

	if callback == nil {
		return newDeviceOpenError(cfg.DeviceID, cfg.SampleRate, "no stream callback", nil)
	}

	s.callback = callback
	stream, err := s.backend.OpenDuplexStream(StreamParams{
		DeviceID:        cfg.DeviceID,
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerPeriod,
		InputChannels:   cfg.InputChannels,
		OutputChannels:  cfg.OutputChannels,
	}, s.dispatch)
	if err != nil {
		s.callback = nil
		s.logger.Warnw("Backend refused duplex stream", "device", cfg.DeviceID, "rate", cfg.SampleRate, "error", err)
		return newDeviceOpenError(cfg.DeviceID, cfg.SampleRate, "backend refused stream", err)
	}

	s.stream = stream
	s.config = cfg
	s.state.Store(int32(StateOpen))

	s.logger.Debugw("Opened duplex stream",
		"device", cfg.DeviceID,
		"rate", cfg.SampleRate,
		"frames", cfg.FramesPerPeriod)
	return nil
}

// Start begins periodic callbacks. It is a no-op when already Running.
func (s *StreamSession) Start() error {
	switch s.State() {
	case StateClosed:
		return ErrStreamNotOpen
	case StateRunning:
		return nil
	}

	s.gate.Store(true)
	if err := s.stream.Start(); err != nil {
		s.gate.Store(false)
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	s.state.Store(int32(StateRunning))
	s.logger.Debugw("Started duplex stream", "device", s.config.DeviceID)
	return nil
}

// Stop halts callbacks and returns only after the in-flight one has completed.
// It is a no-op unless Running.
func (s *StreamSession) Stop() error {
	if s.State() != StateRunning {
		return nil
	}

	s.gate.Store(false)
	err := s.stream.Stop()
	s.state.Store(int32(StateOpen))

	if err != nil {
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}

	s.logger.Debugw("Stopped duplex stream", "device", s.config.DeviceID)
	return nil
}

// Close stops the stream if needed and releases the device. The session always
// ends Closed; if the backend refuses to close the stream, the handle is kept
// and every later Close or Open retries it until the device is free.
func (s *StreamSession) Close() error {
	if s.State() == StateClosed {
		return s.releaseOrphans()
	}

	stopErr := s.Stop()
	orphanErr := s.releaseOrphans()

	var closeErr error
	if err := s.stream.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close audio stream: %w", err)
		s.orphans = append(s.orphans, s.stream)
		s.logger.Warnw("Stream close failed, keeping handle to retry", "device", s.config.DeviceID, "error", err)
	}

	s.stream = nil
	s.callback = nil
	s.state.Store(int32(StateClosed))

	s.logger.Debugw("Closed duplex stream", "device", s.config.DeviceID)
	return errors.Join(stopErr, orphanErr, closeErr)
}

func (s *StreamSession) releaseOrphans() error {
	var errs []error
	remaining := s.orphans[:0]

	for _, stream := range s.orphans {
		if err := stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audio stream: %w", err))
			remaining = append(remaining, stream)
			continue
		}
		s.logger.Debug("Released stream left over from a failed close")
	}

	clear(s.orphans[len(remaining):])
	s.orphans = remaining
	return errors.Join(errs...)
}

// dispatch runs on the driver thread
func (s *StreamSession) dispatch(input, output []float32) {
	if !s.gate.Load() {
		clear(output)
		return
	}
	s.callback(input, output)
}
