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

// AudioBackend provides an abstraction layer over the platform audio subsystem
// This enables dependency injection and makes testing hardware-independent
type AudioBackend interface {
	// Initialize the audio subsystem
	Initialize() error

	// Terminate the audio subsystem
	Terminate() error

	// Devices returns a fresh description of every endpoint the subsystem knows about
	Devices() ([]DeviceInfo, error)

	// OpenDuplexStream binds a device to a duplex stream driven by callback.
	// The callback runs on the driver's real-time thread once per period.
	OpenDuplexStream(params StreamParams, callback StreamCallback) (StreamInterface, error)
}

// StreamInterface abstracts duplex stream operations
type StreamInterface interface {
	// Start the audio stream
	Start() error

	// Stop the audio stream. Must not return while a callback invocation is in flight.
	Stop() error

	// Close the audio stream and release resources
	Close() error

	// IsActive returns true if the stream is currently running
	IsActive() bool
}

// StreamCallback receives one period of interleaved input and output samples.
// It runs on the real-time thread: no allocation, no locks, no blocking.
type StreamCallback func(input, output []float32)

// StreamParams holds parameters for duplex stream creation
type StreamParams struct {
	DeviceID        int
	SampleRate      float64
	FramesPerBuffer int
	InputChannels   int
	OutputChannels  int
}

// DeviceInfo is the raw capability record a backend reports for one endpoint
type DeviceInfo struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	SampleRates       []int
	DefaultInput      bool
	DefaultOutput     bool
}
