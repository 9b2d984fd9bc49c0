// Package relay submits built bundles to a block builder over signed
// JSON-RPC and polls their inclusion status.
package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sugawarayuuta/sonnet"

	"github.com/caldre/arbot/internal/domain"
)

// Config holds relay client settings.
type Config struct {
	URL        string
	SigningKey string // hex-encoded ECDSA private key, no 0x prefix
	Timeout    time.Duration
}

// Client is a signed JSON-RPC relay client implementing domain.Relay.
// Every request body is keccak-hashed and signed EIP-191 style; the
// relay authenticates the searcher from the X-Flashbots-Signature
// header and builds reputation against the recovered address.
type Client struct {
	url        string
	httpClient *http.Client
	signingKey *ecdsa.PrivateKey
	logger     *slog.Logger
}

// New creates a relay client. The signing key is required: relays
// reject unsigned submissions.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("relay: signing key not configured")
	}
	key, err := crypto.HexToECDSA(cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("relay: parse signing key: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		signingKey: key,
		logger:     logger.With(slog.String("component", "relay")),
	}
	c.logger.Info("relay signer loaded",
		slog.String("address", crypto.PubkeyToAddress(key.PublicKey).Hex()))
	return c, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type sendBundleParams struct {
	Payload   string  `json:"payload"` // base64
	Target    string  `json:"target"`
	TradeSize float64 `json:"tradeSize"`
	Tip       float64 `json:"tip"`
}

type sendBundleResult struct {
	BundleHash string `json:"bundleHash"`
}

type bundleStatsParams struct {
	BundleHash string `json:"bundleHash"`
}

type bundleStatsResult struct {
	Status string `json:"status"`
}

// Submit sends a bundle and returns the relay-assigned bundle hash.
func (c *Client) Submit(ctx context.Context, b *domain.Bundle) (string, error) {
	params := sendBundleParams{
		Payload:   base64.StdEncoding.EncodeToString(b.Payload),
		Target:    b.Target.Hex(),
		TradeSize: b.TradeSize,
		Tip:       b.Tip,
	}
	var result sendBundleResult
	if err := c.call(ctx, "eth_sendBundle", params, &result); err != nil {
		return "", fmt.Errorf("relay: submit: %w", err)
	}
	c.logger.Info("bundle submitted",
		slog.String("bundle_hash", result.BundleHash),
		slog.String("target", b.Target.Hex()),
		slog.Float64("tip", b.Tip))
	return result.BundleHash, nil
}

// Status reports the fate of a previously submitted bundle. Unknown
// relay statuses map to pending so the caller keeps polling.
func (c *Client) Status(ctx context.Context, bundleID string) (domain.BundleStatus, error) {
	var result bundleStatsResult
	if err := c.call(ctx, "flashbots_getBundleStats", bundleStatsParams{BundleHash: bundleID}, &result); err != nil {
		return domain.BundlePending, fmt.Errorf("relay: status: %w", err)
	}
	switch result.Status {
	case "included":
		return domain.BundleIncluded, nil
	case "dropped", "failed":
		return domain.BundleDropped, nil
	default:
		return domain.BundlePending, nil
	}
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	body, err := sonnet.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  []any{params},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	sig, err := c.signPayload(body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Flashbots-Signature", sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", method, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := sonnet.Unmarshal(data, &envelope); err != nil {
		return err
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	return sonnet.Unmarshal(envelope.Result, out)
}

// signPayload hashes the request body and signs the hash EIP-191
// style. The header format is "address:signature".
func (c *Client) signPayload(body []byte) (string, error) {
	hashed := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(
		crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(hashed), hashed))),
		c.signingKey,
	)
	if err != nil {
		return "", err
	}
	addr := crypto.PubkeyToAddress(c.signingKey.PublicKey)
	return addr.Hex() + ":" + hexutil.Encode(sig), nil
}
