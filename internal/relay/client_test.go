package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/caldre/arbot/internal/domain"
)

// Well-known throwaway key, never used on any network.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{URL: url, SigningKey: testKey, Timeout: time.Second},
		slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSubmitSignsRequest(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Flashbots-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0xabc"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	id, err := c.Submit(context.Background(), &domain.Bundle{
		OpportunityID: "opp-1",
		TradeSize:     500,
		Tip:           0.01,
		Payload:       []byte("payload"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "0xabc" {
		t.Errorf("bundle id = %q, want 0xabc", id)
	}

	addr, sigHex, ok := strings.Cut(gotSig, ":")
	if !ok {
		t.Fatalf("signature header %q not address:signature", gotSig)
	}
	key, _ := crypto.HexToECDSA(testKey)
	if want := crypto.PubkeyToAddress(key.PublicKey).Hex(); addr != want {
		t.Errorf("header address = %s, want %s", addr, want)
	}

	// The signature must recover to the signer over the hashed body.
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	hashed := crypto.Keccak256Hash(gotBody).Hex()
	digest := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(hashed), hashed)))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub).Hex(); got != addr {
		t.Errorf("recovered %s, header claims %s", got, addr)
	}
}

func TestSubmitRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"bundle too large"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if _, err := c.Submit(context.Background(), &domain.Bundle{Payload: []byte("x")}); err == nil {
		t.Fatal("expected rpc error")
	} else if !strings.Contains(err.Error(), "bundle too large") {
		t.Errorf("error %q missing relay message", err)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		relay string
		want  domain.BundleStatus
	}{
		{"included", domain.BundleIncluded},
		{"dropped", domain.BundleDropped},
		{"failed", domain.BundleDropped},
		{"pending", domain.BundlePending},
		{"simulating", domain.BundlePending}, // unknown keeps polling
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"status":"` + tt.relay + `"}}`))
		}))
		c := testClient(t, srv.URL)
		got, err := c.Status(context.Background(), "0xabc")
		srv.Close()
		if err != nil {
			t.Fatalf("Status(%s): %v", tt.relay, err)
		}
		if got != tt.want {
			t.Errorf("Status(%s) = %v, want %v", tt.relay, got, tt.want)
		}
	}
}

func TestNewRejectsMissingKey(t *testing.T) {
	if _, err := New(Config{URL: "http://relay"}, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("expected error without signing key")
	}
}
