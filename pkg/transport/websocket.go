// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket bridge
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketOptions describes a serial-over-WebSocket bridge in front of the
// instrument. The bridge forwards the raw byte stream in binary messages.
type WebSocketOptions struct {
	URL           string
	Username      string
	Password      string
	SkipTLSVerify bool
	Timeout       time.Duration
	Logger        *zap.Logger
}

// wsPort adapts a WebSocket to lts.Port. A reader goroutine feeds messages
// into a channel so Read can time out without poisoning the socket.
type wsPort struct {
	conn    *websocket.Conn
	timeout time.Duration
	msgs    chan []byte
	done    chan struct{}

	buf       []byte
	bufOffset int

	mu      sync.Mutex
	readErr error
	once    sync.Once
}

func newWSPort(conn *websocket.Conn, timeout time.Duration) *wsPort {
	w := &wsPort{
		conn:    conn,
		timeout: timeout,
		msgs:    make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *wsPort) readLoop() {
	defer close(w.msgs)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}
		// The bridge may send text status frames; only binary carries data
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.msgs <- data:
		case <-w.done:
			return
		}
	}
}

func (w *wsPort) Read(p []byte) (int, error) {
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case data, ok := <-w.msgs:
		if !ok {
			w.mu.Lock()
			err := w.readErr
			w.mu.Unlock()
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

// SetReadTimeout changes how long Read waits for a message.
func (w *wsPort) SetReadTimeout(t time.Duration) error {
	w.timeout = t
	return nil
}

func (w *wsPort) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ResetInputBuffer drops every message already received.
func (w *wsPort) ResetInputBuffer() error {
	w.buf = nil
	w.bufOffset = 0
	for {
		select {
		case _, ok := <-w.msgs:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

func (w *wsPort) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

func dialWebSocket(opts WebSocketOptions) (*websocket.Conn, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipTLSVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, opts.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return conn, nil
}

// OpenWebSocket connects through a WebSocket bridge. There is no baud
// bootstrap; the version check still applies.
func OpenWebSocket(opts WebSocketOptions) (*lts.Conn, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("url", opts.URL))

	ws, err := dialWebSocket(opts)
	if err != nil {
		return nil, err
	}
	port := newWSPort(ws, opts.Timeout)

	version, err := queryVersion(lts.NewConn(port, lts.WithName(opts.URL), lts.WithLogger(logger), lts.WithTimeout(opts.Timeout)))
	if err != nil {
		port.Close()
		return nil, err
	}

	logger.Info("connected", zap.String("version", version))
	return lts.NewConn(port,
		lts.WithName(opts.URL),
		lts.WithLogger(logger),
		lts.WithTimeout(opts.Timeout),
		lts.WithVersion(version),
		lts.WithReopen(func() (lts.Port, error) {
			ws, err := dialWebSocket(opts)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrReconnectFailed, err)
			}
			return newWSPort(ws, opts.Timeout), nil
		}),
	), nil
}
