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
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	connectAttempts   = 5
	connectRetryDelay = 2 * time.Second
)

// ClientNATSConnection interface for dependency injection
type ClientNATSConnection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Close()
}

// ClientNATSConnectionAdapter adapts *nats.Conn to ClientNATSConnection interface
type ClientNATSConnectionAdapter struct {
	conn *nats.Conn
}

func NewClientNATSConnectionAdapter(conn *nats.Conn) *ClientNATSConnectionAdapter {
	return &ClientNATSConnectionAdapter{conn: conn}
}

func (r *ClientNATSConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return r.conn.Subscribe(subject, cb)
}

func (r *ClientNATSConnectionAdapter) Publish(subject string, data []byte) error {
	return r.conn.Publish(subject, data)
}

func (r *ClientNATSConnectionAdapter) Close() {
	r.conn.Close()
}

// Connect dials natsURL, retrying a few times before giving up
func Connect(natsURL, clientID string, logger *zap.SugaredLogger) (*ClientNATSConnectionAdapter, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < connectAttempts; i++ {
		nc, err = nats.Connect(natsURL, nats.Name(clientID))
		if err == nil {
			break
		}
		logger.Warnw("⚠️ Failed to connect to NATS",
			"attempt", fmt.Sprintf("%d/%d", i+1, connectAttempts),
			"error", err)
		if i < connectAttempts-1 {
			time.Sleep(connectRetryDelay)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", connectAttempts, err)
	}

	logger.Infow("✅ Connected to NATS", "url", natsURL)
	return NewClientNATSConnectionAdapter(nc), nil
}
