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
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	levels, err := LevelPayload{InputLevel: 0.25, OutputLevel: 0.5, InputPeak: 0.75, OutputPeak: 1}.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	tests := []struct {
		name  string
		frame *Frame
	}{
		{name: "heartbeat_without_payload", frame: NewFrame(FrameTypeHeartbeat, 12345, 1, 1640995200000000, nil)},
		{name: "levels_payload", frame: NewFrame(FrameTypeLevels, 67890, 42, 1640995200123456, levels)},
		{name: "chat_at_max_size", frame: NewFrame(FrameTypeChat, 99999, 999, 1640995299999999, bytes.Repeat([]byte{0xAB}, MaxDataSize))},
		{name: "status_text", frame: NewFrame(FrameTypeStatus, 11111, 5, uint64(time.Now().UnixMicro()), []byte("running"))}, //nolint:gosec // G115: test timestamp
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := tt.frame.Serialize()
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}

			if len(wire) != tt.frame.Size() {
				t.Errorf("len(wire) = %d, want %d", len(wire), tt.frame.Size())
			}
			if len(wire) > MaxFrameSize {
				t.Errorf("len(wire) = %d exceeds MaxFrameSize", len(wire))
			}
			if string(wire[0:4]) != "LQCH" {
				t.Errorf("magic = %q, want %q", wire[0:4], "LQCH")
			}
			if wire[5] != 0 {
				t.Errorf("reserved byte = %d, want 0", wire[5])
			}
			if got := binary.BigEndian.Uint16(wire[6:8]); int(got) != len(tt.frame.Data) {
				t.Errorf("length field = %d, want %d", got, len(tt.frame.Data))
			}

			got, err := DeserializeFrame(wire)
			if err != nil {
				t.Fatalf("DeserializeFrame() error = %v", err)
			}

			if got.Type != tt.frame.Type || got.SessionID != tt.frame.SessionID ||
				got.Sequence != tt.frame.Sequence || got.Timestamp != tt.frame.Timestamp {
				t.Errorf("header fields = %+v, want %+v", got, tt.frame)
			}
			if !bytes.Equal(got.Data, tt.frame.Data) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got.Data), len(tt.frame.Data))
			}
		})
	}
}

func TestDeserializeFrame_CopiesPayload(t *testing.T) {
	wire, err := NewFrame(FrameTypeChat, 1, 1, 1, []byte("hello")).Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	frame, err := DeserializeFrame(wire)
	if err != nil {
		t.Fatalf("DeserializeFrame() error = %v", err)
	}

	wire[HeaderSize] = 'j'
	if string(frame.Data) != "hello" {
		t.Errorf("Data = %q, decoded frame must not alias the input buffer", frame.Data)
	}
}

func TestSerialize_TooLarge(t *testing.T) {
	frame := NewFrame(FrameTypeChat, 1, 1, 0, make([]byte, MaxDataSize+1))

	if frame.IsValid() {
		t.Error("IsValid() = true for oversized frame")
	}
	if _, err := frame.Serialize(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Serialize() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestDeserializeFrame_Rejects(t *testing.T) {
	valid, err := NewFrame(FrameTypeStatus, 1, 2, 3, []byte("open")).Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	badMagic := append([]byte(nil), valid...)
	copy(badMagic[0:4], "LOQA")

	tests := []struct {
		name    string
		data    []byte
		wantIs  error
		wantMsg string
	}{
		{name: "empty_input", data: nil, wantMsg: "frame too small"},
		{name: "truncated_header", data: valid[:HeaderSize-1], wantMsg: "frame too small"},
		{name: "wrong_magic", data: badMagic, wantIs: ErrInvalidMagic},
		{name: "truncated_payload", data: valid[:len(valid)-1], wantMsg: "frame size mismatch"},
		{name: "trailing_bytes", data: append(append([]byte(nil), valid...), 0), wantMsg: "frame size mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeFrame(tt.data)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestReadFrame(t *testing.T) {
	var stream bytes.Buffer
	for i, ft := range []FrameType{FrameTypeStatus, FrameTypeHeartbeat, FrameTypeError} {
		data, err := NewFrame(ft, 7, uint32(i+1), 100, []byte(ft.String())).Serialize() //nolint:gosec // G115: small loop index
		if err != nil {
			t.Fatalf("Serialize() error = %v", err)
		}
		stream.Write(data)
	}

	var got []FrameType
	for {
		frame, err := ReadFrame(&stream)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		if string(frame.Data) != frame.Type.String() {
			t.Errorf("Data = %q, want %q", frame.Data, frame.Type.String())
		}
		got = append(got, frame.Type)
	}

	if len(got) != 3 || got[0] != FrameTypeStatus || got[2] != FrameTypeError {
		t.Errorf("ReadFrame sequence = %v", got)
	}

	t.Run("truncated_stream", func(t *testing.T) {
		data, _ := NewFrame(FrameTypeStatus, 1, 1, 1, []byte("running")).Serialize()
		_, err := ReadFrame(bytes.NewReader(data[:len(data)-2]))
		if err == nil || errors.Is(err, io.EOF) {
			t.Errorf("ReadFrame() error = %v, want truncation error", err)
		}
	})

	t.Run("truncated_header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader(make([]byte, 5)))
		if err == nil || !strings.Contains(err.Error(), "failed to read frame header") {
			t.Errorf("ReadFrame() error = %v, want header read error", err)
		}
	})
}

func TestFrameTypeString(t *testing.T) {
	tests := []struct {
		frameType FrameType
		expected  string
	}{
		{FrameTypeLevels, "levels"},
		{FrameTypeChat, "chat"},
		{FrameTypeHeartbeat, "heartbeat"},
		{FrameTypeHandshake, "handshake"},
		{FrameTypeError, "error"},
		{FrameTypeStatus, "status"},
		{FrameType(0x7F), "FrameType(0x7F)"},
	}

	for _, tt := range tests {
		if got := tt.frameType.String(); got != tt.expected {
			t.Errorf("FrameType(%d).String() = %q, want %q", tt.frameType, got, tt.expected)
		}
	}
}

func TestParseFrameHeader(t *testing.T) {
	tests := []struct {
		name      string
		setupFunc func() []byte
		wantErr   bool
		errMsg    string
		validate  func(*testing.T, *FrameHeader)
	}{
		{
			name: "Valid header with data",
			setupFunc: func() []byte {
				frame := NewFrame(FrameTypeLevels, 67890, 200, 1640995300000000, make([]byte, LevelPayloadSize))
				data, _ := frame.Serialize()
				return data[:HeaderSize]
			},
			validate: func(t *testing.T, header *FrameHeader) {
				if header.Type != FrameTypeLevels {
					t.Errorf("Type = %v, want %v", header.Type, FrameTypeLevels)
				}
				if header.SessionID != 67890 {
					t.Errorf("SessionID = %d, want %d", header.SessionID, 67890)
				}
				if header.Length != LevelPayloadSize {
					t.Errorf("Length = %d, want %d", header.Length, LevelPayloadSize)
				}
			},
		},
		{
			name: "Invalid header size",
			setupFunc: func() []byte {
				return make([]byte, HeaderSize+1)
			},
			wantErr: true,
			errMsg:  "invalid header size",
		},
		{
			name: "Data length too large",
			setupFunc: func() []byte {
				headerBuf := make([]byte, HeaderSize)
				binary.BigEndian.PutUint32(headerBuf[0:4], FrameMagic)
				headerBuf[4] = uint8(FrameTypeChat)
				binary.BigEndian.PutUint16(headerBuf[6:8], MaxDataSize+1)
				return headerBuf
			},
			wantErr: true,
			errMsg:  ErrFrameTooLarge.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, err := parseFrameHeader(tt.setupFunc())

			if tt.wantErr {
				if err == nil {
					t.Error("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Expected error containing %q, got: %v", tt.errMsg, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, header)
			}
		})
	}
}

func TestFrameStamper(t *testing.T) {
	stamper := NewFrameStamper()

	if !strings.HasPrefix(stamper.SessionID(), "client-") {
		t.Errorf("SessionID() = %q, want client- prefix", stamper.SessionID())
	}

	first := stamper.Stamp(FrameTypeHeartbeat, nil)
	second := stamper.Stamp(FrameTypeLevels, []byte{1})

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("Sequences = %d, %d, want 1, 2", first.Sequence, second.Sequence)
	}
	if first.SessionID != stamper.SessionHash() || second.SessionID != stamper.SessionHash() {
		t.Error("Frames should carry the session hash")
	}
	if first.Timestamp == 0 || second.Timestamp < first.Timestamp {
		t.Errorf("Timestamps = %d, %d", first.Timestamp, second.Timestamp)
	}

	if sessionIDHash("abc") != sessionIDHash("abc") || sessionIDHash("abc") == sessionIDHash("abd") {
		t.Error("sessionIDHash should be deterministic and discriminating")
	}

	other := NewFrameStamper()
	if other.SessionID() == stamper.SessionID() {
		t.Error("Session IDs should be unique")
	}
}
