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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrHubRejected is returned when the hub answers a frame with an Error frame
var ErrHubRejected = errors.New("hub rejected frame")

// HTTPFramePublisher posts each frame to the hub as its own HTTP/1.1 request
type HTTPFramePublisher struct {
	hubURL   string
	clientID string
	stamper  *FrameStamper
	client   *http.Client
	logger   *zap.SugaredLogger

	// StatusHandler, when set, receives Status frames the hub returns
	StatusHandler func(*Frame)
}

// NewHTTPFramePublisher creates a publisher for the hub at hubURL
func NewHTTPFramePublisher(hubURL, clientID string, logger *zap.SugaredLogger) (*HTTPFramePublisher, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("invalid hub URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid hub URL %q: scheme must be http or https", hubURL)
	}

	// Telemetry is fire-and-forget; don't hold pooled connections across reports
	transport := &http.Transport{
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     1 * time.Second,
		ForceAttemptHTTP2:   false,
	}

	return &HTTPFramePublisher{
		hubURL:   strings.TrimRight(hubURL, "/"),
		clientID: clientID,
		stamper:  NewFrameStamper(),
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: transport,
		},
		logger: logger.Named("telemetry.http"),
	}, nil
}

// Publish sends one frame to <hub>/send/client
func (c *HTTPFramePublisher) Publish(ctx context.Context, frameType FrameType, data []byte) error {
	frame := c.stamper.Stamp(frameType, data)
	frameData, err := frame.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}

	sendURL := fmt.Sprintf("%s/send/client?client_id=%s", c.hubURL, url.QueryEscape(c.clientID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(frameData))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Client-ID", c.clientID)
	req.Header.Set("X-Session-ID", c.stamper.SessionID())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warnw("Failed to close send response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send frame failed with status: %d", resp.StatusCode)
	}

	// Level frames are frequent; keep them out of the log
	if frame.Type != FrameTypeLevels {
		c.logger.Debugw("📤 Sent frame", "type", frame.Type, "bytes", len(frameData), "seq", frame.Sequence)
	}

	return c.handleResponseFrames(resp.Body)
}

// handleResponseFrames reads any frames the hub wrote back
func (c *HTTPFramePublisher) handleResponseFrames(body io.Reader) error {
	for {
		frame, err := ReadFrame(body)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read hub response: %w", err)
		}

		switch frame.Type {
		case FrameTypeError:
			return fmt.Errorf("%w: %s", ErrHubRejected, string(frame.Data))
		case FrameTypeStatus:
			if c.StatusHandler != nil {
				c.StatusHandler(frame)
			}
		case FrameTypeHeartbeat:
			// hub is alive
		default:
			c.logger.Warnw("⚠️ Unexpected frame in hub response", "type", frame.Type)
		}
	}
}

// Close drops idle connections to the hub
func (c *HTTPFramePublisher) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// SessionID returns the session identifier sent with every frame
func (c *HTTPFramePublisher) SessionID() string {
	return c.stamper.SessionID()
}
