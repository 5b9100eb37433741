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
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/atomic"
)

// FrameStamper fills in the session, sequence and timestamp header fields of
// outgoing frames. Safe for concurrent use.
type FrameStamper struct {
	sessionID string
	hash      uint32
	sequence  atomic.Uint32
}

// NewFrameStamper creates a stamper with a fresh session ID
func NewFrameStamper() *FrameStamper {
	id := generateSessionID()
	return &FrameStamper{sessionID: id, hash: sessionIDHash(id)}
}

// Stamp builds the next frame of the session
func (s *FrameStamper) Stamp(frameType FrameType, data []byte) *Frame {
	return NewFrame(
		frameType,
		s.hash,
		s.sequence.Inc(),
		uint64(time.Now().UnixMicro()), //nolint:gosec // Safe conversion from int64 to uint64
		data,
	)
}

// SessionID returns the session identifier
func (s *FrameStamper) SessionID() string {
	return s.sessionID
}

// SessionHash returns the value stamped into each frame's SessionID field
func (s *FrameStamper) SessionHash() uint32 {
	return s.hash
}

// sessionIDHash folds a session ID into the 32-bit frame header field
func sessionIDHash(sessionID string) uint32 {
	hash := uint32(0)
	for _, b := range []byte(sessionID) {
		hash = hash*31 + uint32(b)
	}
	return hash
}

// generateSessionID creates a unique session identifier
func generateSessionID() string {
	now := time.Now()
	random := rand.Int63n(1000000) //nolint:gosec // G404: Non-cryptographic random OK for session ID
	return fmt.Sprintf("client-%d-%d-%d", now.Unix(), now.Nanosecond(), random)
}
