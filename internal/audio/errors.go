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
)

var (
	// ErrSubsystemInit is fatal to an engine instance: the audio backend could not be started.
	ErrSubsystemInit = errors.New("audio subsystem initialization failed")

	// ErrDeviceEnumeration is transient; callers may retry enumeration.
	ErrDeviceEnumeration = errors.New("audio device enumeration failed")

	// ErrDeviceOpen is recoverable; callers should re-enumerate and pick another device or rate.
	ErrDeviceOpen = errors.New("audio device open failed")

	// ErrStreamNotOpen reports a stream operation issued before a successful open.
	ErrStreamNotOpen = errors.New("audio stream not open")
)

// DeviceOpenError describes why a device could not be bound to a duplex stream
type DeviceOpenError struct {
	DeviceID   int
	SampleRate int
	Reason     string
	Err        error
}

func (e *DeviceOpenError) Error() string {
	msg := fmt.Sprintf("failed to open device %d at %d Hz: %s", e.DeviceID, e.SampleRate, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying backend error, if any
func (e *DeviceOpenError) Unwrap() error {
	return e.Err
}

// Is makes every DeviceOpenError match ErrDeviceOpen
func (e *DeviceOpenError) Is(target error) bool {
	return target == ErrDeviceOpen
}

func newDeviceOpenError(deviceID, sampleRate int, reason string, err error) *DeviceOpenError {
	return &DeviceOpenError{
		DeviceID:   deviceID,
		SampleRate: sampleRate,
		Reason:     reason,
		Err:        err,
	}
}
