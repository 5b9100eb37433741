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

package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestChatClient(t *testing.T, capacity int) (*ChatClient, *MockClientNATSConnection) {
	t.Helper()

	conn := NewMockClientNATSConnection()
	client := NewChatClientWithConnection(conn, "client-1", "alice", "general", capacity, zaptest.NewLogger(t).Sugar())
	t.Cleanup(client.Close)
	return client, conn
}

func chatPayload(t *testing.T, msg ChatMessage) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func receive(t *testing.T, client *ChatClient) ChatMessage {
	t.Helper()
	select {
	case msg := <-client.Messages():
		return msg
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for chat message")
		return ChatMessage{}
	}
}

func TestChatClient_Creation(t *testing.T) {
	tests := []struct {
		name             string
		nickname         string
		capacity         int
		expectedNickname string
		expectedCapacity int
	}{
		{name: "explicit_nickname", nickname: "alice", capacity: 10, expectedNickname: "alice", expectedCapacity: 10},
		{name: "nickname_defaults_to_client_id", nickname: "", capacity: 5, expectedNickname: "client-1", expectedCapacity: 5},
		{name: "zero_capacity_clamped", nickname: "bob", capacity: 0, expectedNickname: "bob", expectedCapacity: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewChatClientWithConnection(NewMockClientNATSConnection(), "client-1", tt.nickname, "general", tt.capacity, zaptest.NewLogger(t).Sugar())

			assert.Equal(t, tt.expectedNickname, client.nickname)
			assert.Equal(t, tt.expectedCapacity, cap(client.messages))
		})
	}
}

func TestChatClient_Subscriptions(t *testing.T) {
	t.Run("channel_and_broadcast", func(t *testing.T) {
		client, conn := newTestChatClient(t, 10)

		require.NoError(t, client.Start())
		require.NoError(t, client.Start(), "second start is a no-op")

		assert.ElementsMatch(t, []string{"chat.general", "chat.broadcast"}, conn.Subjects())
	})

	t.Run("broadcast_channel_subscribed_once", func(t *testing.T) {
		conn := NewMockClientNATSConnection()
		client := NewChatClientWithConnection(conn, "c", "", BroadcastChannel, 10, zaptest.NewLogger(t).Sugar())
		defer client.Close()

		require.NoError(t, client.Start())
		assert.Equal(t, []string{"chat.broadcast"}, conn.Subjects())
	})

	t.Run("subscribe_error", func(t *testing.T) {
		client, conn := newTestChatClient(t, 10)
		conn.SetError("chat.broadcast", nats.ErrConnectionClosed)

		err := client.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chat.broadcast")
		assert.ErrorIs(t, err, nats.ErrConnectionClosed)
	})
}

func TestChatClient_ReceiveMessages(t *testing.T) {
	client, conn := newTestChatClient(t, 10)
	require.NoError(t, client.Start())

	sent := ChatMessage{
		Channel:   "general",
		Sender:    "bob",
		SenderID:  "client-2",
		Text:      "hello",
		Timestamp: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	conn.Deliver("chat.general", chatPayload(t, sent))
	assert.Equal(t, sent, receive(t, client))

	t.Run("broadcast_channel_filled_from_subject", func(t *testing.T) {
		conn.Deliver("chat.broadcast", chatPayload(t, ChatMessage{Sender: "System", SenderID: "hub", Text: "maintenance at noon"}))

		msg := receive(t, client)
		assert.Equal(t, "broadcast", msg.Channel)
		assert.Equal(t, "System", msg.Sender)
	})

	t.Run("invalid_json_ignored", func(t *testing.T) {
		conn.Deliver("chat.general", []byte("not-json"))

		select {
		case msg := <-client.Messages():
			t.Errorf("Unexpected message: %+v", msg)
		case <-time.After(20 * time.Millisecond):
		}
	})

	t.Run("own_echo_dropped", func(t *testing.T) {
		conn.Deliver("chat.general", chatPayload(t, ChatMessage{Sender: "alice", SenderID: "client-1", Text: "me"}))

		select {
		case msg := <-client.Messages():
			t.Errorf("Own message should not be delivered: %+v", msg)
		case <-time.After(20 * time.Millisecond):
		}
	})
}

func TestChatClient_QueueOverflow(t *testing.T) {
	client, conn := newTestChatClient(t, 2)
	require.NoError(t, client.Start())

	for i := 0; i < 5; i++ {
		conn.Deliver("chat.general", chatPayload(t, ChatMessage{SenderID: "other", Text: fmt.Sprintf("msg-%d", i)}))
	}

	assert.Equal(t, 3, client.Dropped())
	assert.Equal(t, "msg-0", receive(t, client).Text)
	assert.Equal(t, "msg-1", receive(t, client).Text)
}

func TestChatClient_SendMessage(t *testing.T) {
	client, conn := newTestChatClient(t, 10)

	assert.ErrorIs(t, client.SendMessage("general", "too early"), ErrChatNotStarted)

	require.NoError(t, client.Start())
	require.NoError(t, client.SendMessage("", "  hi all  "))
	require.NoError(t, client.SendMessage("random", "elsewhere"))

	published := conn.Published()
	require.Len(t, published, 2)
	assert.Equal(t, "chat.general", published[0].Subject)
	assert.Equal(t, "chat.random", published[1].Subject)

	var msg ChatMessage
	require.NoError(t, json.Unmarshal(published[0].Data, &msg))
	assert.Equal(t, "general", msg.Channel)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "client-1", msg.SenderID)
	assert.Equal(t, "hi all", msg.Text)
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Minute)

	select {
	case got := <-client.Messages():
		t.Errorf("Own message echoed back: %+v", got)
	default:
	}

	t.Run("validation", func(t *testing.T) {
		assert.Error(t, client.SendMessage("general", "   "))
		assert.Error(t, client.SendMessage("general", strings.Repeat("x", maxMessageLength+1)))
	})

	t.Run("publish_error", func(t *testing.T) {
		conn.SetError("chat.broken", errors.New("slow consumer"))
		err := client.SendMessage("broken", "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "slow consumer")
	})
}

func TestChatClient_Close(t *testing.T) {
	client, conn := newTestChatClient(t, 10)
	require.NoError(t, client.Start())

	client.Close()
	client.Close()

	assert.Equal(t, 1, conn.CloseCount(), "connection closed once")

	_, ok := <-client.Messages()
	assert.False(t, ok, "message queue closed")

	assert.ErrorIs(t, client.SendMessage("general", "after close"), ErrChatNotStarted)
	assert.Error(t, client.Start(), "cannot restart a closed client")

	// late deliveries after close must not panic
	assert.NotPanics(t, func() {
		conn.Deliver("chat.general", chatPayload(t, ChatMessage{SenderID: "other", Text: "late"}))
	})
}

func TestChatSubject(t *testing.T) {
	assert.Equal(t, "chat.general", ChatSubject("general"))
	assert.Equal(t, "chat.broadcast", ChatSubject(BroadcastChannel))
}
