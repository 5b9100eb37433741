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
	"encoding/binary"
	"fmt"
	"math"

	"github.com/loqalabs/loqa-chat-go/internal/audio"
)

// LevelPayloadSize is the encoded size of a LevelPayload
const LevelPayloadSize = 17

// LevelPayload is the body of a Levels frame: the latest meter readings, the
// peaks held since the previous report, and the session state.
type LevelPayload struct {
	InputLevel  float32
	OutputLevel float32
	InputPeak   float32
	OutputPeak  float32
	State       audio.SessionState
}

// MarshalBinary encodes the payload as four big-endian IEEE-754 floats and a state byte
func (p LevelPayload) MarshalBinary() ([]byte, error) {
	if p.State < audio.StateClosed || p.State > audio.StateRunning {
		return nil, fmt.Errorf("invalid session state %d", p.State)
	}

	buf := make([]byte, LevelPayloadSize)
	binary.BigEndian.PutUint32(buf[0:4], math.Float32bits(p.InputLevel))
	binary.BigEndian.PutUint32(buf[4:8], math.Float32bits(p.OutputLevel))
	binary.BigEndian.PutUint32(buf[8:12], math.Float32bits(p.InputPeak))
	binary.BigEndian.PutUint32(buf[12:16], math.Float32bits(p.OutputPeak))
	buf[16] = byte(p.State)
	return buf, nil
}

// UnmarshalBinary decodes a payload produced by MarshalBinary
func (p *LevelPayload) UnmarshalBinary(data []byte) error {
	if len(data) != LevelPayloadSize {
		return fmt.Errorf("invalid level payload size: %d bytes (expected %d)", len(data), LevelPayloadSize)
	}

	state := audio.SessionState(data[16])
	if state > audio.StateRunning {
		return fmt.Errorf("invalid session state %d", state)
	}

	p.InputLevel = math.Float32frombits(binary.BigEndian.Uint32(data[0:4]))
	p.OutputLevel = math.Float32frombits(binary.BigEndian.Uint32(data[4:8]))
	p.InputPeak = math.Float32frombits(binary.BigEndian.Uint32(data[8:12]))
	p.OutputPeak = math.Float32frombits(binary.BigEndian.Uint32(data[12:16]))
	p.State = state
	return nil
}
