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
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// BroadcastChannel receives messages meant for every client
	BroadcastChannel = "broadcast"

	chatSubjectPrefix = "chat."
	maxMessageLength  = 4096
)

// ErrChatNotStarted is returned by SendMessage before Start or after Close
var ErrChatNotStarted = errors.New("chat client not started")

// ChatMessage is the JSON body of a chat subject message
type ChatMessage struct {
	Channel   string    `json:"channel"`   // Channel name without the subject prefix
	Sender    string    `json:"sender"`    // Display nickname
	SenderID  string    `json:"sender_id"` // Client ID, used to drop our own echoes
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSubject returns the NATS subject for a chat channel
func ChatSubject(channel string) string {
	return chatSubjectPrefix + channel
}

// ChatClient exchanges text messages over NATS. It runs entirely on NATS
// goroutines and never touches the audio path.
type ChatClient struct {
	natsConn ClientNATSConnection
	clientID string
	nickname string
	channel  string
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	started  bool
	closed   bool
	messages chan ChatMessage
	dropped  int
}

// NewChatClient connects to natsURL and returns a client for channel
func NewChatClient(natsURL, clientID, nickname, channel string, capacity int, logger *zap.SugaredLogger) (*ChatClient, error) {
	conn, err := Connect(natsURL, clientID, logger)
	if err != nil {
		return nil, err
	}

	return NewChatClientWithConnection(conn, clientID, nickname, channel, capacity, logger), nil
}

// NewChatClientWithConnection creates a chat client over an existing connection (for testing)
func NewChatClientWithConnection(natsConn ClientNATSConnection, clientID, nickname, channel string, capacity int, logger *zap.SugaredLogger) *ChatClient {
	if nickname == "" {
		nickname = clientID
	}

	return &ChatClient{
		natsConn: natsConn,
		clientID: clientID,
		nickname: nickname,
		channel:  channel,
		logger:   logger.Named("chat"),
		messages: make(chan ChatMessage, max(capacity, 1)),
	}
}

// Start subscribes to the client's channel and the broadcast channel
func (c *ChatClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("chat client closed")
	}
	if c.started {
		return nil
	}

	subjects := []string{ChatSubject(c.channel)}
	if c.channel != BroadcastChannel {
		subjects = append(subjects, ChatSubject(BroadcastChannel))
	}

	for _, subject := range subjects {
		if _, err := c.natsConn.Subscribe(subject, c.handleChatMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
	}

	c.started = true
	c.logger.Infow("💬 Subscribed to chat", "subjects", strings.Join(subjects, ", "))
	return nil
}

// handleChatMessage decodes an incoming message and queues it, dropping it if the queue is full
func (c *ChatClient) handleChatMessage(msg *nats.Msg) {
	var chatMsg ChatMessage
	if err := json.Unmarshal(msg.Data, &chatMsg); err != nil {
		c.logger.Warnw("❌ Failed to unmarshal chat message", "subject", msg.Subject, "error", err)
		return
	}

	if chatMsg.SenderID == c.clientID {
		return
	}

	if chatMsg.Channel == "" {
		chatMsg.Channel = strings.TrimPrefix(msg.Subject, chatSubjectPrefix)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}

	select {
	case c.messages <- chatMsg:
		c.logger.Debugw("📥 Received chat message", "channel", chatMsg.Channel, "sender", chatMsg.Sender)
	default:
		c.dropped++
		c.logger.Warnw("⚠️ Chat queue full, dropping message", "channel", chatMsg.Channel, "dropped", c.dropped)
	}
}

// SendMessage publishes text to channel. An empty channel selects the client's own channel.
func (c *ChatClient) SendMessage(channel, text string) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if !started {
		return ErrChatNotStarted
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty chat message")
	}
	if len(text) > maxMessageLength {
		return fmt.Errorf("chat message too long: %d bytes (max %d)", len(text), maxMessageLength)
	}
	if channel == "" {
		channel = c.channel
	}

	data, err := json.Marshal(ChatMessage{
		Channel:   channel,
		Sender:    c.nickname,
		SenderID:  c.clientID,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	if err := c.natsConn.Publish(ChatSubject(channel), data); err != nil {
		return fmt.Errorf("failed to publish chat message: %w", err)
	}

	c.logger.Debugw("📤 Sent chat message", "channel", channel)
	return nil
}

// Messages returns the queue of received messages. It is closed by Close.
func (c *ChatClient) Messages() <-chan ChatMessage {
	return c.messages
}

// Dropped returns how many messages were discarded because the queue was full
func (c *ChatClient) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close closes the NATS connection and the message queue. Idempotent.
func (c *ChatClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.started = false
	close(c.messages)
	c.mu.Unlock()

	if c.natsConn != nil {
		c.natsConn.Close()
		c.logger.Info("🔌 NATS connection closed")
	}
}
