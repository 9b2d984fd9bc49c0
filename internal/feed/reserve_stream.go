// Package feed streams live reserve updates from the indexer WebSocket.
// Updates arrive between full snapshot fetches and keep the in-memory
// view current without polling.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/caldre/arbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the pause before attempting to reconnect.
	reconnectDelay = 2 * time.Second
)

// ReserveUpdate is a single pool's new reserves as reported by the feed.
type ReserveUpdate struct {
	Pool     common.Address
	ReserveA *big.Int
	ReserveB *big.Int
}

// UpdateHandler is called for each reserve update received on the stream.
type UpdateHandler func(ctx context.Context, u ReserveUpdate)

type wsCommand struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type wsMessage struct {
	Channel  string `json:"channel"`
	Pool     string `json:"pool"`
	ReserveA string `json:"reserve_a"`
	ReserveB string `json:"reserve_b"`
}

// ReserveStream connects to the indexer WebSocket, subscribes to the
// reserves channel and invokes the handler on each update. It reconnects
// on disconnect and runs until its context is cancelled or Close is called.
type ReserveStream struct {
	wsURL     string
	onUpdate  UpdateHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewReserveStream creates a stream for the indexer at wsURL, e.g.
// "wss://indexer.example.com/ws".
func NewReserveStream(wsURL string, onUpdate UpdateHandler, logger *slog.Logger) *ReserveStream {
	return &ReserveStream{
		wsURL:    wsURL,
		onUpdate: onUpdate,
		logger:   logger.With(slog.String("component", "reserve_stream")),
		done:     make(chan struct{}),
	}
}

// Run connects and consumes updates until ctx is cancelled. Disconnects
// trigger a reconnect after a short pause; the subscription is replayed
// on every new connection.
func (s *ReserveStream) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}
		err := s.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("reserve stream disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Close stops the stream.
func (s *ReserveStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *ReserveStream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.logger.Info("reserve stream subscribed")

	// Close the connection when the context ends so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-s.done:
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}
		s.dispatch(ctx, data)
	}
}

func (s *ReserveStream) subscribe(conn *websocket.Conn) error {
	cmd := wsCommand{Type: "subscribe", Channel: "reserves"}
	data, err := sonnet.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

func (s *ReserveStream) dispatch(ctx context.Context, data []byte) {
	var msg wsMessage
	if err := sonnet.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("reserve stream message dropped", slog.String("error", err.Error()))
		return
	}
	if msg.Channel != "reserves" {
		return
	}
	ra, okA := new(big.Int).SetString(msg.ReserveA, 10)
	rb, okB := new(big.Int).SetString(msg.ReserveB, 10)
	if !okA || !okB {
		s.logger.Warn("reserve stream update with bad reserves", slog.String("pool", msg.Pool))
		return
	}
	if s.onUpdate != nil {
		s.onUpdate(ctx, ReserveUpdate{
			Pool:     common.HexToAddress(msg.Pool),
			ReserveA: ra,
			ReserveB: rb,
		})
	}
}
