// Package ingest implements C4, the Stream Ingestor: it subscribes to a
// depth-update stream for the symbols the compiled chains actually use,
// decodes each message into decimal price levels, validates book shape, and
// publishes into the ticker store.
//
// DepthFeed is a generic depth-stream transport, grounded on
// internal/exchange/ws.go's WSFeed almost directly: exponential reconnect
// backoff (1s -> 30s), a ping loop, and a read-deadline watchdog. The
// teacher's two fixed typed channels (book/price_change for the market
// channel, trade/order for the user channel) are generalized here to a
// single raw-message channel — depth-update decoding is the Ingestor's job,
// not the transport's, since the wire shape is exchange-specific and this
// spec names no particular exchange.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	msgBufferSize    = 1024
)

// DepthFeed manages a single WebSocket connection subscribed to a fixed set
// of symbols' depth-update channel. It handles connection lifecycle and
// automatic reconnection with exponential backoff; message decoding happens
// downstream in Ingestor.
type DepthFeed struct {
	url     string
	symbols []string // exchange-native symbol ids to subscribe to

	connMu sync.Mutex
	conn   *websocket.Conn

	msgCh  chan []byte
	logger *slog.Logger
}

// NewDepthFeed builds a feed that will subscribe to symbols once connected.
func NewDepthFeed(url string, symbols []string, logger *slog.Logger) *DepthFeed {
	return &DepthFeed{
		url:     url,
		symbols: symbols,
		msgCh:   make(chan []byte, msgBufferSize),
		logger:  logger.With("component", "ingest-wsfeed"),
	}
}

// Messages returns the channel of raw depth-update payloads.
func (f *DepthFeed) Messages() <-chan []byte { return f.msgCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *DepthFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("depth feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close closes the underlying connection, if any.
func (f *DepthFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *DepthFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("depth feed connected", "symbols", len(f.symbols))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		select {
		case f.msgCh <- msg:
		default:
			f.logger.Warn("depth message channel full, dropping message")
		}
	}
}

func (f *DepthFeed) sendSubscription() error {
	payload := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
	}{Method: "SUBSCRIBE", Params: f.symbols}
	return f.writeJSON(payload)
}

func (f *DepthFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *DepthFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *DepthFeed) writeMessage(messageType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(messageType, data)
}
