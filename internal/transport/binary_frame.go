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
	"errors"
	"fmt"
	"io"
)

// Level telemetry travels in LQCH frames: a fixed 24-byte big-endian header
// followed by an opaque payload of at most MaxDataSize bytes.
//
//	offset  size  field
//	0       4     magic "LQCH"
//	4       1     type
//	5       1     reserved, zero
//	6       2     payload length
//	8       4     session hash
//	12      4     sequence
//	16      8     timestamp, unix microseconds

// FrameType identifies what a frame's payload carries
type FrameType uint8

const (
	FrameTypeLevels FrameType = 0x01
	FrameTypeChat   FrameType = 0x02

	FrameTypeHeartbeat FrameType = 0x10
	FrameTypeHandshake FrameType = 0x11
	FrameTypeError     FrameType = 0x12

	// Hub to client
	FrameTypeStatus FrameType = 0x21
)

var frameTypeNames = map[FrameType]string{
	FrameTypeLevels:    "levels",
	FrameTypeChat:      "chat",
	FrameTypeHeartbeat: "heartbeat",
	FrameTypeHandshake: "handshake",
	FrameTypeError:     "error",
	FrameTypeStatus:    "status",
}

func (t FrameType) String() string {
	if name, ok := frameTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FrameType(0x%02X)", uint8(t))
}

const (
	// FrameMagic is "LQCH" read as a big-endian uint32
	FrameMagic = 0x4C514348

	// MaxFrameSize keeps a frame inside one Ethernet MTU
	MaxFrameSize = 1500
	HeaderSize   = 24
	MaxDataSize  = MaxFrameSize - HeaderSize
)

var (
	// ErrFrameTooLarge is returned for payloads over MaxDataSize
	ErrFrameTooLarge = errors.New("frame data too large")
	// ErrInvalidMagic is returned when a header does not start with FrameMagic
	ErrInvalidMagic = errors.New("invalid frame magic")
)

// Frame is one decoded LQCH frame
type Frame struct {
	Type      FrameType
	SessionID uint32
	Sequence  uint32
	Timestamp uint64
	Data      []byte
}

// FrameHeader mirrors the on-wire header
type FrameHeader struct {
	Magic     uint32
	Type      FrameType
	Reserved  uint8
	Length    uint16
	SessionID uint32
	Sequence  uint32
	Timestamp uint64
}

func (h *FrameHeader) encode(dst []byte) {
	binary.BigEndian.PutUint32(dst[0:4], h.Magic)
	dst[4] = byte(h.Type)
	dst[5] = h.Reserved
	binary.BigEndian.PutUint16(dst[6:8], h.Length)
	binary.BigEndian.PutUint32(dst[8:12], h.SessionID)
	binary.BigEndian.PutUint32(dst[12:16], h.Sequence)
	binary.BigEndian.PutUint64(dst[16:24], h.Timestamp)
}

// NewFrame builds a frame; the payload is not copied
func NewFrame(frameType FrameType, sessionID, sequence uint32, timestamp uint64, data []byte) *Frame {
	return &Frame{
		Type:      frameType,
		SessionID: sessionID,
		Sequence:  sequence,
		Timestamp: timestamp,
		Data:      data,
	}
}

// Serialize encodes the frame into a single buffer of Size() bytes
func (f *Frame) Serialize() ([]byte, error) {
	if !f.IsValid() {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(f.Data), MaxDataSize)
	}

	out := make([]byte, f.Size())
	header := FrameHeader{
		Magic:     FrameMagic,
		Type:      f.Type,
		Length:    uint16(len(f.Data)), //nolint:gosec // G115: bounded by MaxDataSize above
		SessionID: f.SessionID,
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
	}
	header.encode(out[:HeaderSize])
	copy(out[HeaderSize:], f.Data)

	return out, nil
}

// DeserializeFrame decodes a buffer holding exactly one frame
func DeserializeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too small: %d bytes (min %d)", len(data), HeaderSize)
	}

	header, err := parseFrameHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}

	if want := HeaderSize + int(header.Length); len(data) != want {
		return nil, fmt.Errorf("frame size mismatch: got %d bytes, expected %d", len(data), want)
	}

	return header.frame(data[HeaderSize:]), nil
}

// ReadFrame reads the next frame from a byte stream. It returns io.EOF when
// the stream ends cleanly on a frame boundary.
func ReadFrame(r io.Reader) (*Frame, error) {
	var headerData [HeaderSize]byte
	if _, err := io.ReadFull(r, headerData[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	header, err := parseFrameHeader(headerData[:])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame data: %w", err)
	}

	return header.frame(payload), nil
}

// parseFrameHeader decodes and validates a HeaderSize buffer
func parseFrameHeader(headerData []byte) (*FrameHeader, error) {
	if len(headerData) != HeaderSize {
		return nil, fmt.Errorf("invalid header size: %d bytes (expected %d)", len(headerData), HeaderSize)
	}

	header := &FrameHeader{
		Magic:     binary.BigEndian.Uint32(headerData[0:4]),
		Type:      FrameType(headerData[4]),
		Reserved:  headerData[5],
		Length:    binary.BigEndian.Uint16(headerData[6:8]),
		SessionID: binary.BigEndian.Uint32(headerData[8:12]),
		Sequence:  binary.BigEndian.Uint32(headerData[12:16]),
		Timestamp: binary.BigEndian.Uint64(headerData[16:24]),
	}

	if header.Magic != FrameMagic {
		return nil, fmt.Errorf("%w: 0x%08X (expected 0x%08X)", ErrInvalidMagic, header.Magic, FrameMagic)
	}
	if header.Length > MaxDataSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, header.Length, MaxDataSize)
	}

	return header, nil
}

// frame pairs the header with a private copy of payload
func (h *FrameHeader) frame(payload []byte) *Frame {
	f := &Frame{
		Type:      h.Type,
		SessionID: h.SessionID,
		Sequence:  h.Sequence,
		Timestamp: h.Timestamp,
	}
	if len(payload) > 0 {
		f.Data = append([]byte(nil), payload...)
	}
	return f
}

// IsValid reports whether the payload fits in one frame
func (f *Frame) IsValid() bool {
	return len(f.Data) <= MaxDataSize
}

// Size returns the serialized length
func (f *Frame) Size() int {
	return HeaderSize + len(f.Data)
}
