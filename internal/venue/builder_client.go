package venue

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/caldre/arbot/internal/domain"
)

// BuilderClient asks the external bundle-builder service to assemble and
// dry-run atomic bundles. It implements domain.Builder. The bundle payload
// stays opaque: the builder produces it and the relay consumes it.
type BuilderClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewBuilderClient(baseURL string, timeout time.Duration) *BuilderClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BuilderClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type buildRequest struct {
	OpportunityID string   `json:"opportunity_id"`
	Kind          string   `json:"kind"`
	Path          []string `json:"path"`
	Pools         []string `json:"pools"`
	TradeSize     float64  `json:"trade_size"`
	Tip           float64  `json:"tip"`
}

type buildResponse struct {
	Payload string `json:"payload"` // base64
}

type simulateResponse struct {
	Success        bool    `json:"success"`
	ExpectedProfit float64 `json:"expected_profit"`
	GasUsed        uint64  `json:"gas_used"`
	RevertReason   string  `json:"revert_reason,omitempty"`
}

// BuildBundle assembles a bundle for opp at the given size and tip.
func (b *BuilderClient) BuildBundle(ctx context.Context, opp *domain.Opportunity, tradeSize, tip float64) (*domain.Bundle, error) {
	req := buildRequest{
		OpportunityID: opp.ID,
		Kind:          string(opp.Kind),
		TradeSize:     tradeSize,
		Tip:           tip,
	}
	for _, a := range opp.Path {
		req.Path = append(req.Path, a.Hex())
	}
	for _, p := range opp.Pools {
		req.Pools = append(req.Pools, p.Address.Hex())
	}
	var resp buildResponse
	if err := b.doPost(ctx, "/v1/bundle", req, &resp); err != nil {
		return nil, fmt.Errorf("venue: build bundle: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("venue: decode bundle payload: %w", err)
	}
	return &domain.Bundle{
		OpportunityID: opp.ID,
		Target:        opp.Target(),
		TradeSize:     tradeSize,
		Tip:           tip,
		Payload:       payload,
	}, nil
}

// Simulate dry-runs a built bundle.
func (b *BuilderClient) Simulate(ctx context.Context, bundle *domain.Bundle) (domain.SimulationResult, error) {
	req := map[string]string{
		"payload": base64.StdEncoding.EncodeToString(bundle.Payload),
	}
	var resp simulateResponse
	if err := b.doPost(ctx, "/v1/simulate", req, &resp); err != nil {
		return domain.SimulationResult{}, fmt.Errorf("venue: simulate: %w", err)
	}
	return domain.SimulationResult{
		Success:        resp.Success,
		ExpectedProfit: resp.ExpectedProfit,
		GasUsed:        resp.GasUsed,
		RevertReason:   resp.RevertReason,
	}, nil
}

func (b *BuilderClient) doPost(ctx context.Context, path string, in, out any) error {
	body, err := sonnet.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	return sonnet.Unmarshal(data, out)
}
