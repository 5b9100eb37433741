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
	"sort"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// candidateSampleRates are the rates probed on every device during enumeration
var candidateSampleRates = []int{8000, 16000, 22050, 32000, 44100, 48000, 96000}

// Device is an immutable snapshot of one audio endpoint
type Device struct {
	ID                   int
	Name                 string
	HostAPI              string
	MaxInputChannels     int
	MaxOutputChannels    int
	SupportedSampleRates []int
	DefaultSampleRate    float64

	// IsSystemDefault is set on the default input device and the default output device
	IsSystemDefault bool
	IsDefaultInput  bool
	IsDefaultOutput bool
}

// IsDuplex reports whether the device can capture and play back at the same time
func (d Device) IsDuplex() bool {
	return d.MaxInputChannels > 0 && d.MaxOutputChannels > 0
}

// SupportsSampleRate reports whether rate is in the device's supported set
func (d Device) SupportsSampleRate(rate int) bool {
	return funk.ContainsInt(d.SupportedSampleRates, rate)
}

func (d Device) String() string {
	return fmt.Sprintf("%d: %s (in=%d, out=%d)", d.ID, d.Name, d.MaxInputChannels, d.MaxOutputChannels)
}

// DeviceCatalog enumerates the endpoints a backend exposes
type DeviceCatalog struct {
	backend AudioBackend
	logger  *zap.SugaredLogger
}

// NewDeviceCatalog creates a catalog over an initialized backend
func NewDeviceCatalog(backend AudioBackend, logger *zap.SugaredLogger) *DeviceCatalog {
	return &DeviceCatalog{
		backend: backend,
		logger:  logger.Named("catalog"),
	}
}

// Enumerate returns a fresh snapshot of the available devices. Nothing is cached:
// hardware may appear or disappear between calls.
func (c *DeviceCatalog) Enumerate() ([]Device, error) {
	infos, err := c.backend.Devices()
	if err != nil {
		c.logger.Warnw("Failed to query audio devices", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrDeviceEnumeration, err)
	}

	devices := make([]Device, 0, len(infos))
	haveInput, haveOutput := false, false

	for _, info := range infos {
		if info.MaxInputChannels <= 0 && info.MaxOutputChannels <= 0 {
			continue
		}

		// only the first device a backend flags per direction keeps the tag
		defIn := info.DefaultInput && info.MaxInputChannels > 0 && !haveInput
		defOut := info.DefaultOutput && info.MaxOutputChannels > 0 && !haveOutput
		haveInput = haveInput || defIn
		haveOutput = haveOutput || defOut

		devices = append(devices, Device{
			ID:                   info.Index,
			Name:                 info.Name,
			HostAPI:              info.HostAPI,
			MaxInputChannels:     max(info.MaxInputChannels, 0),
			MaxOutputChannels:    max(info.MaxOutputChannels, 0),
			SupportedSampleRates: normalizeRates(info.SampleRates),
			DefaultSampleRate:    info.DefaultSampleRate,
			IsSystemDefault:      defIn || defOut,
			IsDefaultInput:       defIn,
			IsDefaultOutput:      defOut,
		})
	}

	c.logger.Debugw("Enumerated audio devices", "reported", len(infos), "usable", len(devices))
	return devices, nil
}

// normalizeRates returns a sorted, de-duplicated copy of rates
func normalizeRates(rates []int) []int {
	positive := make([]int, 0, len(rates))
	for _, rate := range rates {
		if rate > 0 {
			positive = append(positive, rate)
		}
	}
	unique := funk.UniqInt(positive)
	sort.Ints(unique)
	return unique
}

// DuplexDevices filters devices down to those with both input and output channels
func DuplexDevices(devices []Device) []Device {
	return funk.Filter(devices, func(d Device) bool { return d.IsDuplex() }).([]Device)
}

// FindDevice looks up a device by id
func FindDevice(devices []Device, id int) (Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// DefaultDuplexDevice picks the duplex device to use when the caller has no preference:
// a device that is default in both directions, then any default, then the first duplex device.
func DefaultDuplexDevice(devices []Device) (Device, bool) {
	duplex := DuplexDevices(devices)
	if len(duplex) == 0 {
		return Device{}, false
	}

	for _, d := range duplex {
		if d.IsDefaultInput && d.IsDefaultOutput {
			return d, true
		}
	}
	for _, d := range duplex {
		if d.IsSystemDefault {
			return d, true
		}
	}
	return duplex[0], true
}
