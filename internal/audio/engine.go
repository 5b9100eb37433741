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
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// AudioEngine is the facade handed to UI and test collaborators. It composes
// the device catalog, one stream session and the signal meter.
//
// Control methods are meant for one control goroutine at a time; they are
// serialized by a mutex the real-time thread never touches. Stop, Close and
// Shutdown block until the real-time thread is quiescent; nothing else blocks.
type AudioEngine struct {
	mu       sync.Mutex
	backend  AudioBackend
	logger   *zap.SugaredLogger
	catalog  *DeviceCatalog
	session  *StreamSession
	meter    *SignalMeter
	period   *periodProcessor
	shutdown bool
}

// NewAudioEngine initializes backend and returns an engine bound to it.
// A backend failure is reported as ErrSubsystemInit and no engine is returned.
func NewAudioEngine(backend AudioBackend, logger *zap.SugaredLogger) (*AudioEngine, error) {
	logger = logger.Named("engine")

	if err := backend.Initialize(); err != nil {
		logger.Errorw("Failed to initialize audio backend", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSubsystemInit, err)
	}

	meter := &SignalMeter{}
	e := &AudioEngine{
		backend: backend,
		logger:  logger,
		catalog: NewDeviceCatalog(backend, logger),
		session: NewStreamSession(backend, logger),
		meter:   meter,
		period:  newPeriodProcessor(meter, OutputChannels),
	}

	logger.Debug("Created audio engine")
	return e, nil
}

// EnumerateDevices returns a fresh device snapshot
func (e *AudioEngine) EnumerateDevices() ([]Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown {
		return nil, fmt.Errorf("%w: engine shut down", ErrSubsystemInit)
	}
	return e.catalog.Enumerate()
}

// Open binds deviceID at sampleRate, tearing down any current stream first.
// On failure the engine is left Closed, levels keep their last values, and
// the error matches ErrDeviceOpen.
func (e *AudioEngine) Open(deviceID, sampleRate int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown {
		return fmt.Errorf("%w: engine shut down", ErrSubsystemInit)
	}

	if err := e.session.Close(); err != nil {
		e.logger.Warnw("Failed to close previous session", "error", err)
	}

	devices, err := e.catalog.Enumerate()
	if err != nil {
		return newDeviceOpenError(deviceID, sampleRate, "device list unavailable", err)
	}

	device, ok := FindDevice(devices, deviceID)
	if !ok {
		e.logger.Warnw("Requested device does not exist", "device", deviceID)
		return newDeviceOpenError(deviceID, sampleRate, "no such device", nil)
	}
	if device.MaxInputChannels < InputChannels || device.MaxOutputChannels < OutputChannels {
		e.logger.Warnw("Requested device cannot run a duplex stream",
			"device", deviceID,
			"inputChannels", device.MaxInputChannels,
			"outputChannels", device.MaxOutputChannels)
		return newDeviceOpenError(deviceID, sampleRate,
			fmt.Sprintf("needs %d input and %d output channels", InputChannels, OutputChannels), nil)
	}
	if !device.SupportsSampleRate(sampleRate) {
		e.logger.Warnw("Requested sample rate not supported",
			"device", deviceID,
			"rate", sampleRate,
			"supported", device.SupportedSampleRates)
		return newDeviceOpenError(deviceID, sampleRate, "unsupported sample rate", nil)
	}

	if err := e.session.Open(NewStreamConfig(deviceID, sampleRate), e.period.process); err != nil {
		return err
	}

	e.logger.Infow("🎧 Audio device opened", "device", device.Name, "id", deviceID, "rate", sampleRate)
	return nil
}

// OpenDefault opens the preferred duplex device at sampleRate
func (e *AudioEngine) OpenDefault(sampleRate int) error {
	devices, err := e.EnumerateDevices()
	if err != nil {
		return newDeviceOpenError(-1, sampleRate, "device list unavailable", err)
	}

	device, ok := DefaultDuplexDevice(devices)
	if !ok {
		return newDeviceOpenError(-1, sampleRate, "no duplex-capable device", nil)
	}

	return e.Open(device.ID, sampleRate)
}

// Start begins real-time processing. Returns ErrStreamNotOpen when nothing is open.
func (e *AudioEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.session.Start(); err != nil {
		return err
	}
	e.logger.Info("🎙️ Audio stream running")
	return nil
}

// Stop halts real-time processing. After it returns no callback runs until the next Start.
func (e *AudioEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasRunning := e.session.State() == StateRunning
	if err := e.session.Stop(); err != nil {
		return err
	}
	if wasRunning {
		e.logger.Info("⏹️ Audio stream stopped")
	}
	return nil
}

// Close stops and releases the current device. Idempotent.
func (e *AudioEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.session.Close()
}

// Shutdown closes the session and terminates the backend. The engine cannot be reused.
func (e *AudioEngine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown {
		return nil
	}
	e.shutdown = true

	closeErr := e.session.Close()
	if err := e.backend.Terminate(); err != nil {
		e.logger.Warnw("Failed to terminate audio backend", "error", err)
		return fmt.Errorf("failed to terminate audio backend: %w", err)
	}

	e.logger.Info("🔌 Audio engine shut down")
	return closeErr
}

// InstallProcessing replaces the processing callback; nil restores passthrough.
// The change applies from the next period boundary.
func (e *AudioEngine) InstallProcessing(fn ProcessFunc) {
	e.period.installProcessing(fn)
}

// InstallLevelObserver replaces the level observer; nil removes it.
// The change applies from the next period boundary.
func (e *AudioEngine) InstallLevelObserver(fn LevelObserver) {
	e.period.installObserver(fn)
}

// InputLevel returns the last input RMS level
func (e *AudioEngine) InputLevel() float32 {
	return e.meter.Input()
}

// OutputLevel returns the last output RMS level
func (e *AudioEngine) OutputLevel() float32 {
	return e.meter.Output()
}

// Meter exposes the engine's signal meter for read-only observers
func (e *AudioEngine) Meter() *SignalMeter {
	return e.meter
}

// State returns the session state
func (e *AudioEngine) State() SessionState {
	return e.session.State()
}

// Config returns the bound stream configuration, if any
func (e *AudioEngine) Config() (StreamConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State() == StateClosed {
		return StreamConfig{}, false
	}
	return e.session.Config(), true
}

// Periods returns how many periods the real-time path has processed
func (e *AudioEngine) Periods() uint64 {
	return e.period.periods.Load()
}

// Faults returns how many periods were silenced after a panic in caller code
func (e *AudioEngine) Faults() uint64 {
	return e.period.faults.Load()
}
