package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/caldre/arbot/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestEventFilter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventFill, EventBreaker}, slog.New(slog.DiscardHandler))

	if err := n.Notify(context.Background(), EventFill, "Fill", "x"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(context.Background(), EventBlacklist, "Pool blacklisted", "x"); err != nil {
		t.Fatalf("Notify filtered: %v", err)
	}
	if len(s.titles) != 1 || s.titles[0] != "Fill" {
		t.Errorf("delivered = %v, want only Fill", s.titles)
	}
}

func TestEmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, slog.New(slog.DiscardHandler))

	n.NotifyBreaker(context.Background(), "daily loss limit")
	n.NotifyBlacklist(context.Background(), "0xabc")
	if len(s.titles) != 2 {
		t.Errorf("delivered = %v, want 2", s.titles)
	}
}

func TestNotifyExecution(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, slog.New(slog.DiscardHandler))

	n.NotifyExecution(context.Background(), domain.ExecutionRecord{
		Success: true,
		Kind:    domain.OppPair,
		Target:  common.HexToAddress("0x0a"),
		Profit:  0.05,
	})
	n.NotifyExecution(context.Background(), domain.ExecutionRecord{
		Success:  false,
		Kind:     domain.OppTriangular,
		Target:   common.HexToAddress("0x0b"),
		Attempts: 3,
		Err:      "submission failed",
	})
	if len(s.titles) != 2 || s.titles[0] != "Fill" || s.titles[1] != "Execution failed" {
		t.Errorf("delivered = %v", s.titles)
	}
}

func TestSenderFailureDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.Notify(context.Background(), EventFill, "Fill", "x")
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !strings.Contains(err.Error(), "bad: down") {
		t.Errorf("error %q missing sender detail", err)
	}
	if len(good.titles) != 1 {
		t.Errorf("good sender delivered %v, want 1", good.titles)
	}
}
