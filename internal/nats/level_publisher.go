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
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-chat-go/internal/transport"
)

// LevelSubject returns the subject a client's telemetry frames are published on
func LevelSubject(clientID string) string {
	return "levels." + clientID
}

// LevelPublisher publishes telemetry frames on levels.<client_id>.
// It implements transport.FramePublisher.
type LevelPublisher struct {
	natsConn ClientNATSConnection
	subject  string
	stamper  *transport.FrameStamper
	logger   *zap.SugaredLogger
}

// NewLevelPublisher creates a publisher over an existing connection. The
// connection may be shared with a ChatClient; the publisher does not own it.
func NewLevelPublisher(natsConn ClientNATSConnection, clientID string, logger *zap.SugaredLogger) *LevelPublisher {
	return &LevelPublisher{
		natsConn: natsConn,
		subject:  LevelSubject(clientID),
		stamper:  transport.NewFrameStamper(),
		logger:   logger.Named("telemetry.nats"),
	}
}

// Publish serializes one frame and publishes it. NATS publishes are
// buffered by the client library, so ctx is only checked up front.
func (p *LevelPublisher) Publish(ctx context.Context, frameType transport.FrameType, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	frameData, err := p.stamper.Stamp(frameType, data).Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}

	if err := p.natsConn.Publish(p.subject, frameData); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}

	if frameType != transport.FrameTypeLevels {
		p.logger.Debugw("📤 Published frame", "type", frameType, "subject", p.subject)
	}
	return nil
}

// Close is a no-op; the connection belongs to its creator
func (p *LevelPublisher) Close() error {
	return nil
}

// Subject returns the publish subject
func (p *LevelPublisher) Subject() string {
	return p.subject
}
