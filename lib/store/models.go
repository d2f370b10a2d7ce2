package store

import "time"

// Balance contains the fields for a user balance record saved to DB.
type Balance struct {
	UserID    int64     `json:"user_id" bson:"user_id"`
	FakeXMR   float64   `json:"fake_xmr" bson:"fake_xmr"`
	RealXMR   float64   `json:"real_xmr" bson:"real_xmr"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// LedgerTx contains the fields of a completed transfer saved to DB. Entries are immutable once written.
type LedgerTx struct {
	ID         string    `json:"id" bson:"_id"`
	FromUserID int64     `json:"from_user_id" bson:"from_user_id"`
	ToUserID   int64     `json:"to_user_id" bson:"to_user_id"`
	AmountXMR  float64   `json:"amount_xmr" bson:"amount_xmr"`
	Status     string    `json:"status" bson:"status"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}
