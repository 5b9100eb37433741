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
	"slices"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/atomic"
)

// hostAPITypes maps config names onto PortAudio host API identifiers
var hostAPITypes = map[string]portaudio.HostApiType{
	"alsa":        portaudio.ALSA,
	"jack":        portaudio.JACK,
	"oss":         portaudio.OSS,
	"coreaudio":   portaudio.CoreAudio,
	"wasapi":      portaudio.WASAPI,
	"asio":        portaudio.ASIO,
	"directsound": portaudio.DirectSound,
	"mme":         portaudio.MME,
}

// PortAudioBackend implements AudioBackend using the real PortAudio library
type PortAudioBackend struct {
	initialized bool
	hostAPI     portaudio.HostApiType
	preferHost  bool
	rates       *rateCache
}

// NewPortAudioBackend creates a new PortAudio backend bound to the default host API
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{rates: newRateCache()}
}

// NewPortAudioBackendForHostAPI creates a backend that only exposes devices of the
// named host API ("alsa", "jack", ...). An empty name or "default" selects the default.
func NewPortAudioBackendForHostAPI(name string) (*PortAudioBackend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "default" {
		return NewPortAudioBackend(), nil
	}

	apiType, ok := hostAPITypes[name]
	if !ok {
		return nil, fmt.Errorf("unknown host API %q", name)
	}

	return &PortAudioBackend{hostAPI: apiType, preferHost: true, rates: newRateCache()}, nil
}

// Initialize initializes the PortAudio subsystem
func (p *PortAudioBackend) Initialize() error {
	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	if p.preferHost {
		if _, err := portaudio.HostApi(p.hostAPI); err != nil {
			_ = portaudio.Terminate()
			return fmt.Errorf("host API %s unavailable: %w", p.hostAPI, err)
		}
	}

	p.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() error {
	if !p.initialized {
		return nil
	}

	err := portaudio.Terminate()
	p.initialized = false
	// device indexes are only stable within one PortAudio session
	p.rates.reset()
	return err
}

// Devices queries PortAudio for every device of the selected host API
func (p *PortAudioBackend) Devices() ([]DeviceInfo, error) {
	if !p.initialized {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	var (
		devices       []*portaudio.DeviceInfo
		defIn, defOut *portaudio.DeviceInfo
	)

	if p.preferHost {
		api, err := portaudio.HostApi(p.hostAPI)
		if err != nil {
			return nil, fmt.Errorf("failed to query host API %s: %w", p.hostAPI, err)
		}
		devices, defIn, defOut = api.Devices, api.DefaultInputDevice, api.DefaultOutputDevice
	} else {
		all, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("failed to query devices: %w", err)
		}
		devices = all

		// A system without a default input or output is not an enumeration failure
		defIn, _ = portaudio.DefaultInputDevice()
		defOut, _ = portaudio.DefaultOutputDevice()
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		if dev == nil {
			continue
		}

		info := DeviceInfo{
			Index:             dev.Index,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			SampleRates:       p.rates.lookup(dev.Index, func() []int { return probeSampleRates(dev) }),
			DefaultInput:      defIn != nil && dev.Index == defIn.Index,
			DefaultOutput:     defOut != nil && dev.Index == defOut.Index,
		}
		if dev.HostApi != nil {
			info.HostAPI = dev.HostApi.Name
		}

		infos = append(infos, info)
	}

	return infos, nil
}

// OpenDuplexStream opens a callback-driven duplex stream on one device
func (p *PortAudioBackend) OpenDuplexStream(params StreamParams, callback StreamCallback) (StreamInterface, error) {
	if !p.initialized {
		return nil, fmt.Errorf("PortAudio not initialized")
	}
	if callback == nil {
		return nil, fmt.Errorf("stream callback is nil")
	}

	dev, err := lookupPortAudioDevice(params.DeviceID)
	if err != nil {
		return nil, err
	}

	streamParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: params.InputChannels,
			Latency:  dev.DefaultLowInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: params.OutputChannels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      params.SampleRate,
		FramesPerBuffer: params.FramesPerBuffer,
		Flags:           portaudio.ClipOff,
	}

	stream, err := portaudio.OpenStream(streamParams, func(in, out []float32) {
		callback(in, out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open duplex stream: %w", err)
	}

	p.rates.bind(dev.Index, int(params.SampleRate))
	return &PortAudioStream{
		stream:  stream,
		release: sync.OnceFunc(func() { p.rates.unbind(dev.Index) }),
	}, nil
}

// rateCache remembers the probed sample rates of each device. While a device
// is bound to an open stream its last probe is reused: exclusive host APIs
// such as ALSA hw reject format queries on a busy device, which would
// otherwise make the device in use look like it supports no rates.
type rateCache struct {
	mu    sync.Mutex
	rates map[int][]int
	bound map[int]int
}

func newRateCache() *rateCache {
	return &rateCache{
		rates: make(map[int][]int),
		bound: make(map[int]int),
	}
}

// lookup returns the cached rates for a bound device, otherwise probes and caches
func (c *rateCache) lookup(index int, probe func() []int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bound[index] > 0 {
		if rates, ok := c.rates[index]; ok {
			return slices.Clone(rates)
		}
	}

	rates := probe()
	c.rates[index] = slices.Clone(rates)
	return rates
}

// bind marks index as held by a stream running at rate. A device opened
// without a prior probe is remembered with that rate alone.
func (c *rateCache) bind(index, rate int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bound[index]++
	if _, ok := c.rates[index]; !ok {
		c.rates[index] = []int{rate}
	}
}

func (c *rateCache) unbind(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bound[index] <= 1 {
		delete(c.bound, index)
		return
	}
	c.bound[index]--
}

func (c *rateCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.rates)
	clear(c.bound)
}

// lookupPortAudioDevice resolves a device index against the live device list
func lookupPortAudioDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		return nil, fmt.Errorf("invalid device index %d", index)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}

	for _, dev := range devices {
		if dev != nil && dev.Index == index {
			return dev, nil
		}
	}

	return nil, fmt.Errorf("no device with index %d", index)
}

// probeSampleRates asks PortAudio which candidate rates the device accepts
// for the engine's channel layout
func probeSampleRates(dev *portaudio.DeviceInfo) []int {
	params := portaudio.StreamParameters{FramesPerBuffer: FramesPerPeriod}
	if dev.MaxInputChannels > 0 {
		params.Input = portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: min(dev.MaxInputChannels, InputChannels),
			Latency:  dev.DefaultLowInputLatency,
		}
	}
	if dev.MaxOutputChannels > 0 {
		params.Output = portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: min(dev.MaxOutputChannels, OutputChannels),
			Latency:  dev.DefaultLowOutputLatency,
		}
	}
	if params.Input.Device == nil && params.Output.Device == nil {
		return nil
	}

	probe := func(in, out []float32) {}

	var rates []int
	for _, rate := range candidateSampleRates {
		params.SampleRate = float64(rate)
		if err := portaudio.IsFormatSupported(params, probe); err == nil {
			rates = append(rates, rate)
		}
	}
	return rates
}

// PortAudioStream implements StreamInterface using a PortAudio callback stream
type PortAudioStream struct {
	stream  *portaudio.Stream
	active  atomic.Bool
	release func()
}

// Start starts the audio stream
func (p *PortAudioStream) Start() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if err := p.stream.Start(); err != nil {
		return err
	}
	p.active.Store(true)
	return nil
}

// Stop stops the audio stream. Pa_StopStream returns only after the last
// callback invocation has completed.
func (p *PortAudioStream) Stop() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if !p.active.Load() {
		return nil
	}
	err := p.stream.Stop()
	p.active.Store(false)
	return err
}

// Close closes the audio stream
func (p *PortAudioStream) Close() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	p.active.Store(false)
	if err := p.stream.Close(); err != nil {
		return err
	}
	if p.release != nil {
		p.release()
	}
	return nil
}

// IsActive returns true between a successful Start and the next Stop
func (p *PortAudioStream) IsActive() bool {
	if p.stream == nil {
		return false
	}
	return p.active.Load()
}
