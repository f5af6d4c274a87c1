package api

// Request and response shapes for the gateway's REST endpoints and
// WebSocket messages.

import (
	"github.com/filecoin-project/go-state-types/big"

	"github.com/taskgrid/taskgrid/pkg/order"
)

// MatchRequest carries one order of each kind. The dataset order is optional
// and must be present exactly when the request order names a dataset.
type MatchRequest struct {
	App        *order.AppOrder        `json:"apporder"`
	Dataset    *order.DatasetOrder    `json:"datasetorder,omitempty"`
	Workerpool *order.WorkerpoolOrder `json:"workerpoolorder"`
	Request    *order.RequestOrder    `json:"requestorder"`
}

// PreflightResponse reports the volume a match of the four orders would seal.
type PreflightResponse struct {
	MatchableVolume big.Int `json:"matchablevolume"`
}

// SubmitOrderResponse acknowledges an order accepted into the book.
type SubmitOrderResponse struct {
	OrderHash string `json:"orderhash"`
	Status    string `json:"status"`
}

// DealResponse is returned when a match is sealed on the ledger.
type DealResponse struct {
	DealID string  `json:"dealid"`
	Volume big.Int `json:"volume"`
}

// CancelResponse acknowledges an on-ledger order cancellation.
type CancelResponse struct {
	OrderHash string `json:"orderhash"`
	Tx        string `json:"tx"`
	Status    string `json:"status"`
}

// OrderbookResponse lists every open order of one kind.
type OrderbookResponse struct {
	Kind   string        `json:"kind"`
	Orders []order.Order `json:"orders"`
	Count  int           `json:"count"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is sent by a client to manage channel subscriptions.
// Channels: "orderbook:<kind>" and "deals".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// OrderbookUpdate is broadcast when an order enters or leaves a book.
type OrderbookUpdate struct {
	Type      string `json:"type"` // "orderbook"
	Kind      string `json:"kind"`
	OrderHash string `json:"orderhash"`
	Action    string `json:"action"` // "open", "removed", "canceled"
	Timestamp int64  `json:"timestamp"`
}

// DealUpdate is broadcast when a deal is sealed.
type DealUpdate struct {
	Type      string  `json:"type"` // "deal"
	DealID    string  `json:"dealid"`
	Volume    big.Int `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}
