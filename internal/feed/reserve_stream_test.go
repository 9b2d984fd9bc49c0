package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func wsServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReserveStreamDeliversUpdates(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		// Expect the subscribe command first.
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if cmd.Type != "subscribe" || cmd.Channel != "reserves" {
			t.Errorf("subscribe command = %+v", cmd)
		}
		conn.WriteJSON(wsMessage{
			Channel:  "reserves",
			Pool:     "0x000000000000000000000000000000000000000a",
			ReserveA: "1000000",
			ReserveB: "2000000",
		})
		// Malformed reserves must be dropped, not crash the loop.
		conn.WriteJSON(wsMessage{
			Channel:  "reserves",
			Pool:     "0x000000000000000000000000000000000000000b",
			ReserveA: "nope",
			ReserveB: "1",
		})
		// Other channels are ignored.
		conn.WriteJSON(wsMessage{Channel: "heartbeat"})
		time.Sleep(100 * time.Millisecond)
	})

	got := make(chan ReserveUpdate, 4)
	stream := NewReserveStream(url, func(_ context.Context, u ReserveUpdate) {
		got <- u
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	select {
	case u := <-got:
		if u.Pool != common.HexToAddress("0x000000000000000000000000000000000000000a") {
			t.Errorf("pool = %v", u.Pool)
		}
		if u.ReserveA.Int64() != 1_000_000 || u.ReserveB.Int64() != 2_000_000 {
			t.Errorf("reserves = %v / %v", u.ReserveA, u.ReserveB)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	select {
	case u := <-got:
		t.Fatalf("unexpected extra update: %+v", u)
	case <-time.After(200 * time.Millisecond):
	}

	stream.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestReserveStreamStopsOnCancel(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		var cmd wsCommand
		conn.ReadJSON(&cmd)
		// Hold the connection open without sending anything.
		time.Sleep(500 * time.Millisecond)
	})

	stream := NewReserveStream(url, nil, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
