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
	"math"
	"sync"
	"time"

	"github.com/thoas/go-funk"
	"go.uber.org/atomic"
)

// MockAudioBackend implements AudioBackend for testing without hardware dependencies
type MockAudioBackend struct {
	mu                 sync.Mutex
	initialized        bool
	devices            []DeviceInfo
	streams            map[string]*MockStream
	busy               map[int]string
	streamCounter      int
	initError          error
	terminateError     error
	devicesError       error
	openError          error
	simulateRealTiming bool
	lastStream         *MockStream
}

// NewMockAudioBackend creates a new mock audio backend with DefaultMockDevices
func NewMockAudioBackend() *MockAudioBackend {
	return &MockAudioBackend{
		devices:            DefaultMockDevices(),
		streams:            make(map[string]*MockStream),
		busy:               make(map[int]string),
		simulateRealTiming: true,
	}
}

// DefaultMockDevices returns a small, mixed device list: one duplex headset that
// is the system default both ways, a capture-only and a playback-only device,
// and a multichannel interface with high rates only.
func DefaultMockDevices() []DeviceInfo {
	common := []int{8000, 16000, 22050, 44100, 48000}
	return []DeviceInfo{
		{
			Index: 0, Name: "Mock Duplex Headset", HostAPI: "Mock",
			MaxInputChannels: 1, MaxOutputChannels: 2, DefaultSampleRate: 48000,
			SampleRates: common, DefaultInput: true, DefaultOutput: true,
		},
		{
			Index: 1, Name: "Mock USB Microphone", HostAPI: "Mock",
			MaxInputChannels: 2, MaxOutputChannels: 0, DefaultSampleRate: 48000,
			SampleRates: common,
		},
		{
			Index: 2, Name: "Mock Speakers", HostAPI: "Mock",
			MaxInputChannels: 0, MaxOutputChannels: 2, DefaultSampleRate: 44100,
			SampleRates: common,
		},
		{
			Index: 3, Name: "Mock Studio Interface", HostAPI: "Mock",
			MaxInputChannels: 8, MaxOutputChannels: 8, DefaultSampleRate: 96000,
			SampleRates: []int{44100, 48000, 96000},
		},
	}
}

// SetDevices replaces the device list reported by Devices()
func (m *MockAudioBackend) SetDevices(devices []DeviceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = cloneDeviceInfos(devices)
}

// SetInitError configures the backend to return an error on Initialize()
func (m *MockAudioBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetTerminateError configures the backend to return an error on Terminate()
func (m *MockAudioBackend) SetTerminateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminateError = err
}

// SetDevicesError configures the backend to return an error on Devices()
func (m *MockAudioBackend) SetDevicesError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devicesError = err
}

// SetOpenError configures the backend to return an error on OpenDuplexStream()
func (m *MockAudioBackend) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openError = err
}

// SetSimulateRealTiming controls whether streams are driven by a ticker at the
// real period rate. When disabled, periods only run through MockStream.Pump.
func (m *MockAudioBackend) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateRealTiming = simulate
}

// IsInitialized reports whether Initialize has succeeded without a later Terminate
func (m *MockAudioBackend) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// LastStream returns the most recently opened stream, or nil
func (m *MockAudioBackend) LastStream() *MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStream
}

// OpenStreamCount returns the number of streams not yet closed
func (m *MockAudioBackend) OpenStreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Initialize initializes the mock audio subsystem
func (m *MockAudioBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initError != nil {
		return m.initError
	}

	m.initialized = true
	return nil
}

// Terminate stops and closes every open stream, then shuts the subsystem down
func (m *MockAudioBackend) Terminate() error {
	m.mu.Lock()
	if m.terminateError != nil {
		err := m.terminateError
		m.mu.Unlock()
		return err
	}

	var streams []*MockStream
	for _, stream := range m.streams {
		streams = append(streams, stream)
	}

	// Release the lock before calling Stop/Close to avoid deadlocks
	m.mu.Unlock()

	for _, stream := range streams {
		_ = stream.Stop()  // Ignore errors during cleanup
		_ = stream.Close() // Ignore errors during cleanup
	}

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()
	return nil
}

// Devices returns a copy of the configured device list
func (m *MockAudioBackend) Devices() ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("mock audio backend not initialized")
	}
	if m.devicesError != nil {
		return nil, m.devicesError
	}

	return cloneDeviceInfos(m.devices), nil
}

// OpenDuplexStream validates params the way a driver would and creates a mock stream
func (m *MockAudioBackend) OpenDuplexStream(params StreamParams, callback StreamCallback) (StreamInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("mock audio backend not initialized")
	}
	if m.openError != nil {
		return nil, m.openError
	}
	if callback == nil {
		return nil, fmt.Errorf("stream callback is nil")
	}

	var device *DeviceInfo
	for i := range m.devices {
		if m.devices[i].Index == params.DeviceID {
			device = &m.devices[i]
			break
		}
	}
	if device == nil {
		return nil, fmt.Errorf("invalid device %d", params.DeviceID)
	}
	if params.InputChannels > device.MaxInputChannels || params.OutputChannels > device.MaxOutputChannels {
		return nil, fmt.Errorf("invalid channel count for device %d", params.DeviceID)
	}
	if !funk.ContainsInt(device.SampleRates, int(params.SampleRate)) {
		return nil, fmt.Errorf("invalid sample rate %.0f", params.SampleRate)
	}
	if params.FramesPerBuffer <= 0 {
		return nil, fmt.Errorf("invalid frames per buffer %d", params.FramesPerBuffer)
	}
	if owner, busy := m.busy[params.DeviceID]; busy {
		return nil, fmt.Errorf("device %d busy (held by %s)", params.DeviceID, owner)
	}

	streamID := fmt.Sprintf("duplex_%d", m.streamCounter)
	m.streamCounter++

	stream := &MockStream{
		id:                 streamID,
		backend:            m,
		deviceID:           params.DeviceID,
		sampleRate:         params.SampleRate,
		framesPerBuffer:    params.FramesPerBuffer,
		inputChannels:      params.InputChannels,
		outputChannels:     params.OutputChannels,
		simulateRealTiming: m.simulateRealTiming,
		callback:           callback,
		input:              make([]float32, params.FramesPerBuffer*params.InputChannels),
		output:             make([]float32, params.FramesPerBuffer*params.OutputChannels),
		lastInput:          make([]float32, params.FramesPerBuffer*params.InputChannels),
		lastOutput:         make([]float32, params.FramesPerBuffer*params.OutputChannels),
		isOpen:             true,
	}

	m.streams[streamID] = stream
	m.busy[params.DeviceID] = streamID
	m.lastStream = stream
	return stream, nil
}

func (m *MockAudioBackend) release(stream *MockStream) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.streams, stream.id)
	if m.busy[stream.deviceID] == stream.id {
		delete(m.busy, stream.deviceID)
	}
}

func cloneDeviceInfos(devices []DeviceInfo) []DeviceInfo {
	out := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		d.SampleRates = append([]int(nil), d.SampleRates...)
		out[i] = d
	}
	return out
}

// MockStream implements StreamInterface for testing. It plays the driver's role:
// a single goroutine (or the caller of Pump) runs one period at a time.
type MockStream struct {
	mu                 sync.Mutex
	id                 string
	backend            *MockAudioBackend
	deviceID           int
	sampleRate         float64
	framesPerBuffer    int
	inputChannels      int
	outputChannels     int
	simulateRealTiming bool
	isOpen             bool
	stopChannel        chan struct{}
	doneChannel        chan struct{}
	startError         error
	stopError          error
	closeError         error

	// periodMu is held for the whole of one callback period
	periodMu       sync.Mutex
	callback       StreamCallback
	input          []float32
	output         []float32
	lastInput      []float32
	lastOutput     []float32
	inputGenerator func([]float32)
	phase          float64

	active  atomic.Bool
	periods atomic.Uint64
}

// SetStartError configures the stream to return an error on Start()
func (m *MockStream) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = err
}

// SetStopError configures the stream to return an error on Stop()
func (m *MockStream) SetStopError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopError = err
}

// SetCloseError configures the stream to return an error on Close()
func (m *MockStream) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeError = err
}

// SetInputGenerator sets a function that fills each period's capture buffer
func (m *MockStream) SetInputGenerator(generator func([]float32)) {
	m.periodMu.Lock()
	defer m.periodMu.Unlock()
	m.inputGenerator = generator
}

// Start starts the mock stream
func (m *MockStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startError != nil {
		return m.startError
	}
	if !m.isOpen {
		return fmt.Errorf("stream not open")
	}
	if m.active.Load() {
		return fmt.Errorf("stream already active")
	}

	m.active.Store(true)

	if m.simulateRealTiming {
		m.stopChannel = make(chan struct{})
		m.doneChannel = make(chan struct{})
		go m.drive(m.stopChannel, m.doneChannel)
	}

	return nil
}

// Stop stops the mock stream and waits for the in-flight period, if any
func (m *MockStream) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopError != nil {
		return m.stopError
	}

	return m.stopLocked()
}

func (m *MockStream) stopLocked() error {
	if !m.active.Load() {
		return nil
	}

	m.active.Store(false)

	if m.stopChannel != nil {
		close(m.stopChannel)
		<-m.doneChannel
		m.stopChannel = nil
		m.doneChannel = nil
	}

	// A Pump-driven period may still be running
	m.periodMu.Lock()
	m.periodMu.Unlock() //nolint:staticcheck // empty critical section waits for the period

	return nil
}

// Close stops the stream and releases its device
func (m *MockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closeError != nil {
		return m.closeError
	}
	if !m.isOpen {
		return nil // Already closed
	}

	_ = m.stopLocked()
	m.isOpen = false
	m.backend.release(m)
	return nil
}

// IsActive returns true if the mock stream is active
func (m *MockStream) IsActive() bool {
	return m.active.Load()
}

// IsOpen returns true until Close succeeds
func (m *MockStream) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOpen
}

// DeviceID returns the device the stream is bound to
func (m *MockStream) DeviceID() int {
	return m.deviceID
}

// SampleRate returns the stream's sample rate
func (m *MockStream) SampleRate() float64 {
	return m.sampleRate
}

// Periods returns how many periods have been delivered to the callback
func (m *MockStream) Periods() uint64 {
	return m.periods.Load()
}

// Pump synchronously runs up to n periods on the calling goroutine and returns
// how many ran. It stops early once the stream is no longer active.
func (m *MockStream) Pump(n int) int {
	ran := 0
	for ran < n && m.runPeriod() {
		ran++
	}
	return ran
}

// LastInput returns a copy of the capture buffer of the last period
func (m *MockStream) LastInput() []float32 {
	m.periodMu.Lock()
	defer m.periodMu.Unlock()
	return append([]float32(nil), m.lastInput...)
}

// LastOutput returns a copy of the playback buffer of the last period
func (m *MockStream) LastOutput() []float32 {
	m.periodMu.Lock()
	defer m.periodMu.Unlock()
	return append([]float32(nil), m.lastOutput...)
}

func (m *MockStream) runPeriod() bool {
	m.periodMu.Lock()
	defer m.periodMu.Unlock()

	if !m.active.Load() {
		return false
	}

	if m.inputGenerator != nil {
		m.inputGenerator(m.input)
	} else {
		m.sine(m.input)
	}

	// Drivers hand the callback whatever the buffer held last period
	m.callback(m.input, m.output)

	copy(m.lastInput, m.input)
	copy(m.lastOutput, m.output)
	m.periods.Inc()
	return true
}

// sine fills buf with a continuous 440 Hz tone at 0.1 amplitude
func (m *MockStream) sine(buf []float32) {
	step := 2 * math.Pi * 440 / m.sampleRate
	channels := max(m.inputChannels, 1)
	for i := 0; i < len(buf); i += channels {
		v := float32(0.1 * math.Sin(m.phase))
		for ch := 0; ch < channels && i+ch < len(buf); ch++ {
			buf[i+ch] = v
		}
		m.phase += step
	}
	m.phase = math.Mod(m.phase, 2*math.Pi)
}

// drive runs periods at the real period rate until stopped
func (m *MockStream) drive(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	period := time.Duration(float64(m.framesPerBuffer) / m.sampleRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.runPeriod() {
				return
			}
		}
	}
}
