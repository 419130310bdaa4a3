// Package scorer implements the HTTP client for the external
// default-probability scoring service. The statistical model lives behind
// the service; this client only ships holding features and receives raw
// probabilities and calibration bins.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CaoKaiK/bondora/internal/domain"
	"github.com/CaoKaiK/bondora/internal/scoring"
)

// Config holds the scoring client parameters.
type Config struct {
	// BaseURL is the service root, e.g. "http://scorer:9100".
	BaseURL string
	// Timeout bounds a single scoring round trip. Scoring a full portfolio
	// is slow, so this is typically longer than an API timeout.
	Timeout time.Duration
}

// Client is the REST client for the scoring service. It implements
// domain.Scorer.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new scoring service client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// scoreItem is one holding's feature set sent to POST /score.
type scoreItem struct {
	LoanPartID    string  `json:"loan_part_id"`
	LoanID        string  `json:"loan_id"`
	Interest      float64 `json:"interest"`
	NextPaymentNr int     `json:"next_payment_nr"`
	BiddingStart  string  `json:"bidding_started_at"`
}

type scoreRequest struct {
	Items []scoreItem `json:"items"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

type binsResponse struct {
	Bins []struct {
		Predicted float64 `json:"predicted"`
		Observed  float64 `json:"observed"`
	} `json:"bins"`
}

// Score returns one raw default probability per holding, in input order.
// The caller applies calibration; the service returns model output as-is.
func (c *Client) Score(ctx context.Context, holdings []domain.Holding) ([]float64, error) {
	if len(holdings) == 0 {
		return nil, nil
	}

	req := scoreRequest{Items: make([]scoreItem, 0, len(holdings))}
	for _, h := range holdings {
		req.Items = append(req.Items, scoreItem{
			LoanPartID:    h.PartID,
			LoanID:        h.LoanID,
			Interest:      h.Interest,
			NextPaymentNr: h.NextPaymentNr,
			BiddingStart:  h.BiddingStartedAt.Format(time.RFC3339),
		})
	}

	body, err := c.post(ctx, "/score", req)
	if err != nil {
		return nil, fmt.Errorf("scorer: score: %w", err)
	}

	var resp scoreResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("scorer: decode scores: %w", err)
	}
	if len(resp.Scores) != len(holdings) {
		return nil, fmt.Errorf("scorer: expected %d scores, got %d", len(holdings), len(resp.Scores))
	}

	return resp.Scores, nil
}

// CalibrationBins returns the service's current reliability bins, used to
// fit the linear calibration applied on top of raw scores.
func (c *Client) CalibrationBins(ctx context.Context) ([]scoring.Bin, error) {
	body, err := c.get(ctx, "/calibration")
	if err != nil {
		return nil, fmt.Errorf("scorer: calibration bins: %w", err)
	}

	var resp binsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("scorer: decode calibration bins: %w", err)
	}

	bins := make([]scoring.Bin, 0, len(resp.Bins))
	for _, b := range resp.Bins {
		bins = append(bins, scoring.Bin{Predicted: b.Predicted, Observed: b.Observed})
	}
	return bins, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody any) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.send(req)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
