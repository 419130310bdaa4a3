package bondora

import (
	"encoding/json"
	"time"
)

// --------------------------------------------------------------------------
// Bondora API DTOs
// --------------------------------------------------------------------------

// envelope is the common response wrapper used by every Bondora endpoint.
// Payload stays raw so each call can decode it into its own item type.
type envelope struct {
	Payload    json.RawMessage `json:"Payload"`
	TotalCount int             `json:"TotalCount"`
	PageSize   int             `json:"PageSize"`
	PageNr     int             `json:"PageNr"`
	Success    bool            `json:"Success"`
	Errors     []apiError      `json:"Errors"`
}

// apiError is one entry in the Errors array of a failed response. For a 409
// on secondarymarket/sell, Details names the single loan part the exchange
// refused.
type apiError struct {
	Code    int    `json:"Code"`
	Message string `json:"Message"`
	Details string `json:"Details"`
}

// investmentItem represents one loan part from GET account/investments.
type investmentItem struct {
	LoanPartID             string     `json:"LoanPartId"`
	LoanID                 string     `json:"LoanId"`
	Interest               float64    `json:"Interest"`
	NextPaymentNr          int        `json:"NextPaymentNr"`
	BiddingStartedOn       time.Time  `json:"BiddingStartedOn"`
	ListedInSecondMarketOn *time.Time `json:"ListedInSecondMarketOn"`
	PrincipalRemaining     float64    `json:"PrincipalRemaining"`
}

// secondaryMarketItem represents one live listing from GET secondarymarket.
type secondaryMarketItem struct {
	ID                  string    `json:"Id"`
	LoanPartID          string    `json:"LoanPartId"`
	ListedOnDate        time.Time `json:"ListedOnDate"`
	DesiredDiscountRate float64   `json:"DesiredDiscountRate"`
}

// sellItem is one entry in the Items array of POST secondarymarket/sell.
type sellItem struct {
	LoanPartID          string `json:"LoanPartId"`
	DesiredDiscountRate int    `json:"DesiredDiscountRate"`
}

// sellRequest is the body of POST secondarymarket/sell. Listings are always
// auto-cancelled when a payment arrives or the loan is rescheduled, matching
// how the account is operated.
type sellRequest struct {
	Items                       []sellItem `json:"Items"`
	CancelItemOnPaymentReceived bool       `json:"CancelItemOnPaymentReceived"`
	CancelItemOnReschedule      bool       `json:"CancelItemOnReschedule"`
}

// cancelRequest is the body of POST secondarymarket/cancel.
type cancelRequest struct {
	ItemIDs []string `json:"ItemIds"`
}

// balancePayload is the payload of GET account/balance.
type balancePayload struct {
	Balance              float64 `json:"Balance"`
	Reserved             float64 `json:"Reserved"`
	BidRequestAmount     float64 `json:"BidRequestAmount"`
	TotalAvailable       float64 `json:"TotalAvailable"`
	GoGrowOverallValue   float64 `json:"GoGrowOverallValue"`
	GoGrowAvailableValue float64 `json:"GoGrowAvailableValue"`
}

// Balance is the account balance snapshot returned by Client.Balance.
type Balance struct {
	Balance          float64
	Reserved         float64
	BidRequestAmount float64
	TotalAvailable   float64
}
