// Package bondora implements the REST client for the Bondora marketplace
// API. The client owns authentication, pagination and the mandatory
// per-endpoint cool-down; callers receive typed domain values.
package bondora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/CaoKaiK/bondora/internal/domain"
)

// Config holds the REST client parameters.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.bondora.com/api/v1".
	BaseURL string
	// PageSize is the page size used for all paginated GET requests.
	PageSize int
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	// RequestCooldown is the minimum pause between calls to the same
	// endpoint, enforced through the rate limiter.
	RequestCooldown time.Duration
}

// Client is the REST client for the Bondora API. It implements
// domain.MarketplaceGateway.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// NewClient creates a new Bondora REST client. Every request waits on the
// limiter first, keyed by account name and endpoint, so concurrent cycles
// cannot exceed the marketplace's request budget.
func NewClient(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10_000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "bondora_client")),
	}
}

// Holdings returns all active loan parts of the account, listed and
// unlisted, across however many pages the API reports.
func (c *Client) Holdings(ctx context.Context, account domain.Account) ([]domain.Holding, error) {
	var holdings []domain.Holding

	err := c.getPaged(ctx, account, "account/investments", nil, func(payload json.RawMessage) error {
		var items []investmentItem
		if err := json.Unmarshal(payload, &items); err != nil {
			return fmt.Errorf("decode investments: %w", err)
		}
		for _, it := range items {
			holdings = append(holdings, domain.Holding{
				PartID:           it.LoanPartID,
				LoanID:           it.LoanID,
				Interest:         it.Interest,
				NextPaymentNr:    it.NextPaymentNr,
				BiddingStartedAt: it.BiddingStartedOn,
				ListedSince:      it.ListedInSecondMarketOn,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bondora: get holdings: %w", err)
	}

	return holdings, nil
}

// LiveOffers returns the account's currently active sale listings.
func (c *Client) LiveOffers(ctx context.Context, account domain.Account) ([]domain.Offer, error) {
	params := url.Values{}
	params.Set("ShowMyItems", "true")

	var offers []domain.Offer

	err := c.getPaged(ctx, account, "secondarymarket", params, func(payload json.RawMessage) error {
		var items []secondaryMarketItem
		if err := json.Unmarshal(payload, &items); err != nil {
			return fmt.Errorf("decode secondary market items: %w", err)
		}
		for _, it := range items {
			offers = append(offers, domain.Offer{
				ID:       it.ID,
				PartID:   it.LoanPartID,
				ListedAt: it.ListedOnDate,
				Gain:     int(math.Round(it.DesiredDiscountRate)),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bondora: get live offers: %w", err)
	}

	return offers, nil
}

// CancelOffers removes the given live offers. The caller is responsible for
// keeping the batch within the marketplace's size limit.
func (c *Client) CancelOffers(ctx context.Context, account domain.Account, offerIDs []string) error {
	if len(offerIDs) == 0 {
		return nil
	}

	status, body, err := c.do(ctx, account, http.MethodPost, "secondarymarket/cancel", nil, cancelRequest{
		ItemIDs: offerIDs,
	})
	if err != nil {
		return fmt.Errorf("bondora: cancel offers: %w", err)
	}
	// The sell and cancel endpoints acknowledge with 202.
	if status != http.StatusAccepted {
		return fmt.Errorf("bondora: cancel offers: %w", c.statusError(status, body))
	}

	c.logger.Debug("offers cancelled", slog.String("account", account.Name), slog.Int("count", len(offerIDs)))
	return nil
}

// CreateOffers lists the given parts for sale. A 409 response names exactly
// one part the exchange refused; that is surfaced as a conflict outcome so
// the caller can narrow the batch and retry. The returned error is non-nil
// only for transport-level failures.
func (c *Client) CreateOffers(ctx context.Context, account domain.Account, items []domain.SaleItem) (domain.CreateOutcome, error) {
	if len(items) == 0 {
		return domain.CreateOutcome{Status: domain.CreateAccepted}, nil
	}

	req := sellRequest{
		Items:                       make([]sellItem, 0, len(items)),
		CancelItemOnPaymentReceived: true,
		CancelItemOnReschedule:      true,
	}
	for _, it := range items {
		req.Items = append(req.Items, sellItem{
			LoanPartID:          it.PartID,
			DesiredDiscountRate: it.Gain,
		})
	}

	status, body, err := c.do(ctx, account, http.MethodPost, "secondarymarket/sell", nil, req)
	if err != nil {
		return domain.CreateOutcome{}, fmt.Errorf("bondora: create offers: %w", err)
	}

	switch status {
	case http.StatusAccepted:
		c.logger.Debug("offers created", slog.String("account", account.Name), slog.Int("count", len(items)))
		return domain.CreateOutcome{Status: domain.CreateAccepted}, nil
	case http.StatusConflict:
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil || len(env.Errors) == 0 {
			return domain.CreateOutcome{
				Status: domain.CreateFailed,
				Detail: fmt.Sprintf("conflict without offending part: %s", string(body)),
			}, nil
		}
		return domain.CreateOutcome{
			Status:         domain.CreateConflict,
			ConflictPartID: env.Errors[0].Details,
			Detail:         env.Errors[0].Message,
		}, nil
	default:
		return domain.CreateOutcome{
			Status: domain.CreateFailed,
			Detail: c.statusError(status, body).Error(),
		}, nil
	}
}

// Balance returns the account balance snapshot.
func (c *Client) Balance(ctx context.Context, account domain.Account) (Balance, error) {
	status, body, err := c.do(ctx, account, http.MethodGet, "account/balance", nil, nil)
	if err != nil {
		return Balance{}, fmt.Errorf("bondora: get balance: %w", err)
	}
	if status != http.StatusOK {
		return Balance{}, fmt.Errorf("bondora: get balance: %w", c.statusError(status, body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Balance{}, fmt.Errorf("bondora: decode balance envelope: %w", err)
	}
	var p balancePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Balance{}, fmt.Errorf("bondora: decode balance: %w", err)
	}

	return Balance{
		Balance:          p.Balance,
		Reserved:         p.Reserved,
		BidRequestAmount: p.BidRequestAmount,
		TotalAvailable:   p.TotalAvailable,
	}, nil
}

// PublicDataset returns the daily public loan dataset as raw JSON rows,
// paginated like the other list endpoints. Rows are kept raw because they
// are archived as-is rather than interpreted.
func (c *Client) PublicDataset(ctx context.Context, account domain.Account) ([]json.RawMessage, error) {
	var rows []json.RawMessage

	err := c.getPaged(ctx, account, "publicdataset", nil, func(payload json.RawMessage) error {
		var page []json.RawMessage
		if err := json.Unmarshal(payload, &page); err != nil {
			return fmt.Errorf("decode dataset page: %w", err)
		}
		rows = append(rows, page...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bondora: get public dataset: %w", err)
	}

	return rows, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// getPaged fetches every page of a list endpoint, handing each page's raw
// payload to collect. The page count comes from TotalCount of the first
// response.
func (c *Client) getPaged(ctx context.Context, account domain.Account, path string, params url.Values, collect func(payload json.RawMessage) error) error {
	page := 1
	maxPage := 1

	for page <= maxPage {
		q := url.Values{}
		for k, vs := range params {
			q[k] = vs
		}
		q.Set("PageSize", strconv.Itoa(c.cfg.PageSize))
		q.Set("PageNr", strconv.Itoa(page))

		status, body, err := c.do(ctx, account, http.MethodGet, path, q, nil)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return c.statusError(status, body)
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}

		if page == 1 {
			maxPage = int(math.Ceil(float64(env.TotalCount) / float64(c.cfg.PageSize)))
			if maxPage < 1 {
				maxPage = 1
			}
		}

		if len(env.Payload) > 0 {
			if err := collect(env.Payload); err != nil {
				return err
			}
		}

		c.logger.Debug("page received",
			slog.String("account", account.Name),
			slog.String("path", path),
			slog.Int("page", page),
			slog.Int("max_page", maxPage))

		page++
	}

	return nil
}

// do waits for the endpoint's cool-down slot, then builds, sends and reads
// one HTTP request. The raw status code and body are returned so callers can
// interpret endpoint-specific codes like 202 and 409.
func (c *Client) do(ctx context.Context, account domain.Account, method, path string, params url.Values, reqBody any) (int, []byte, error) {
	if c.limiter != nil {
		key := account.Name + ":" + path
		if err := c.limiter.Wait(ctx, key, c.cfg.RequestCooldown); err != nil {
			return 0, nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	fullURL := c.cfg.BaseURL + "/" + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+account.Token)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// statusError maps a non-success status code to an error, folding in the
// message from the response envelope when one is present.
func (c *Client) statusError(statusCode int, body []byte) error {
	var env envelope
	_ = json.Unmarshal(body, &env)

	msg := ""
	if len(env.Errors) > 0 {
		msg = env.Errors[0].Message
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUnauthorized, statusCode, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrRateLimited, statusCode, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNotFound, statusCode, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
