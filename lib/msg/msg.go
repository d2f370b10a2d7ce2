// Package msg defines the interface for different message brokers.
//
package msg

import "time"

// Message types consumed by the downstream services.
const (
	WITHDRAW string = "withdraw"
	TRADE    string = "trade"
)

// WithdrawMsg defines the message that the ledger publishes for the wallet manager to execute a withdrawal.
type WithdrawMsg struct {
	Type          string    `json:"type"`
	UserID        int64     `json:"user_id"`
	ToAddress     string    `json:"to_address"`
	AmountXMR     float64   `json:"amount_xmr"`
	SourceAddress string    `json:"source_address,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

// TradeMsg defines the message that the ledger publishes for the trade engine to settle a trade.
type TradeMsg struct {
	Type       string    `json:"type"`
	SellerID   int64     `json:"seller_id"`
	BuyerID    int64     `json:"buyer_id"`
	AmountXMR  float64   `json:"amount_xmr"`
	OfferID    string    `json:"offer_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type MsgBroker interface {
	Setup(queues ...string) error
	Close() error

	SendWithdraw(queue string, w WithdrawMsg) error
	SendTrade(queue string, tr TradeMsg) error
}
