package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/msg"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/store"
)

// Errors returned to client requests.
var (
	ErrBadRequest        = errors.New("bad request")
	ErrNoUser            = errors.New("undefined user id - missing in uri")
	ErrNoAddress         = errors.New("undefined destination address - missing in request")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPublish           = errors.New("could not publish message to broker")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// balanceSetRequest carries the overwrite payload. Nil fields are left untouched.
type balanceSetRequest struct {
	FakeXMR *float64 `json:"fake_xmr"`
	RealXMR *float64 `json:"real_xmr"`
}

// balanceAdjustRequest carries the credit/debit payload. Kind defaults to fake when omitted.
type balanceAdjustRequest struct {
	AmountXMR float64 `json:"amount_xmr"`
	Kind      string  `json:"kind"`
}

type transferRequest struct {
	FromUserID int64   `json:"from_user_id"`
	ToUserID   int64   `json:"to_user_id"`
	AmountXMR  float64 `json:"amount_xmr"`
}

type tradeRequest struct {
	SellerID  int64   `json:"seller_id"`
	BuyerID   int64   `json:"buyer_id"`
	AmountXMR float64 `json:"amount_xmr"`
	OfferID   string  `json:"offer_id,omitempty"`
}

// tradeQueued acknowledges a trade request accepted for asynchronous settlement.
type tradeQueued struct {
	SellerID   int64     `json:"seller_id"`
	BuyerID    int64     `json:"buyer_id"`
	AmountXMR  float64   `json:"amount_xmr"`
	OfferID    string    `json:"offer_id,omitempty"`
	Queued     bool      `json:"queued"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Queue      string    `json:"queue"`
}

type withdrawRequest struct {
	ToAddress string  `json:"to_address"`
	AmountXMR float64 `json:"amount_xmr"`
}

// withdrawResponse acknowledges a withdrawal request. TxHash is always null here, execution is asynchronous.
type withdrawResponse struct {
	ToAddress    string                 `json:"to_address"`
	AmountXMR    float64                `json:"amount_xmr"`
	TxHash       *string                `json:"tx_hash"`
	MoneroResult map[string]interface{} `json:"monero_result"`
}

// errStatus maps service errors to http status codes. A failed publish means the broker is unavailable, which
// is a gateway problem rather than a client one.
func errStatus(err error) int {
	switch {
	case errors.Is(err, ErrPublish):
		return http.StatusBadGateway
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrNoUser), errors.Is(err, ErrNoAddress),
		errors.Is(err, ErrInsufficientFunds), errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, store.ErrInvalidKind), errors.Is(err, store.ErrInsufficientFake),
		errors.Is(err, store.ErrInsufficientReal):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// userID extracts the user id from the request uri.
func userID(r *http.Request) (int64, error) {
	v := mux.Vars(r)
	tmp, ok := v["user_id"]
	if !ok {
		return 0, ErrNoUser
	}
	id, err := strconv.ParseInt(tmp, 10, 64)
	if err != nil {
		return 0, ErrBadRequest
	}
	return id, nil
}

// homeHandler just replies a welcome message to the client.
func (l *Ledger) homeHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	// log request
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	// just reply a welcome message
	res.Body = "Hello, this is the Pupero ledger!"
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(res)
}

// healthHandler replies a liveness acknowledgement.
func (l *Ledger) healthHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	res.Body = `{"status":"ok"}`
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(res)
}

// balanceHandler replies the balance record of the user, reconciling the real denomination against the wallet
// manager best-effort before answering.
func (l *Ledger) balanceHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var bal store.Balance

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(errStatus(err))
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(bal)
			res.Body = string(tmp)
		}
		// log request and balance
		log.Printf("httpreq from %v %s bal:%+v err:%e\n", r.RemoteAddr, r.RequestURI, bal, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var id int64
	if id, err = userID(r); err != nil {
		return
	}

	bal, err = l.reconcileReal(r.Context(), id)
}

// refreshHandler forces a reconciliation of the real denomination against the wallet manager and replies the
// resulting record.
func (l *Ledger) refreshHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var bal store.Balance

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(errStatus(err))
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(bal)
			res.Body = string(tmp)
		}
		// log request and balance
		log.Printf("httpreq from %v %s bal:%+v err:%e\n", r.RemoteAddr, r.RequestURI, bal, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var id int64
	if id, err = userID(r); err != nil {
		return
	}

	bal, err = l.reconcileReal(r.Context(), id)
}

// setHandler overwrites the denominations supplied in the request and replies the resulting record.
func (l *Ledger) setHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var bal store.Balance

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(errStatus(err))
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(bal)
			res.Body = string(tmp)
		}
		// log request and balance
		log.Printf("httpreq from %v %s bal:%+v err:%e\n", r.RemoteAddr, r.RequestURI, bal, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var id int64
	if id, err = userID(r); err != nil {
		return
	}

	var req balanceSetRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding set request %+v\n", r.Body)

		err = ErrBadRequest

		return
	}

	bal, err = l.db.SetBalance(r.Context(), id, req.FakeXMR, req.RealXMR)
}

// adjust handles both increase and decrease requests.
func (l *Ledger) adjust(rw http.ResponseWriter, r *http.Request, decrease bool) {
	var err error

	var res Response

	var bal store.Balance

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(errStatus(err))
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(bal)
			res.Body = string(tmp)
		}
		// log request and balance
		log.Printf("httpreq from %v %s bal:%+v err:%e\n", r.RemoteAddr, r.RequestURI, bal, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var id int64
	if id, err = userID(r); err != nil {
		return
	}

	var req balanceAdjustRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding adjust request %+v\n", r.Body)

		err = ErrBadRequest

		return
	}

	if req.Kind == "" {
		req.Kind = store.Fake
	}

	bal, err = l.db.AdjustBalance(r.Context(), id, req.AmountXMR, req.Kind, decrease)
}

// increaseHandler credits the requested denomination of the user balance.
func (l *Ledger) increaseHandler(rw http.ResponseWriter, r *http.Request) {
	l.adjust(rw, r, false)
}

// decreaseHandler debits the requested denomination of the user balance, conditional on funds.
func (l *Ledger) decreaseHandler(rw http.ResponseWriter, r *http.Request) {
	l.adjust(rw, r, true)
}

// transferHandler moves fake balance between two users atomically and replies the persisted ledger entry.
func (l *Ledger) transferHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var tx store.LedgerTx

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			transfersTotal.WithLabelValues("failed").Inc()
			rw.WriteHeader(errStatus(err))
		} else {
			transfersTotal.WithLabelValues(tx.Status).Inc()
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(tx)
			res.Body = string(tmp)
		}
		// log request and ledger entry
		log.Printf("httpreq from %v %s tx:%+v err:%e\n", r.RemoteAddr, r.RequestURI, tx, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var req transferRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding transfer request %+v\n", r.Body)

		err = ErrBadRequest

		return
	}

	tx, err = l.db.Transfer(r.Context(), req.FromUserID, req.ToUserID, req.AmountXMR)
}

// tradeHandler validates a trade request and publishes it to the trade queue. The balance store is not touched:
// settlement is the trade engine's job once it consumes the message.
func (l *Ledger) tradeHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var ack tradeQueued

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(errStatus(err))
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(ack)
			res.Body = string(tmp)
		}
		// log request and acknowledgement
		log.Printf("httpreq from %v %s ack:%+v err:%e\n", r.RemoteAddr, r.RequestURI, ack, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var req tradeRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding trade request %+v\n", r.Body)

		err = ErrBadRequest

		return
	}

	if req.AmountXMR <= 0 {
		err = store.ErrInvalidAmount

		return
	}

	now := time.Now().UTC()
	if err = l.mb.SendTrade(l.tradeQueue, msg.TradeMsg{
		SellerID:   req.SellerID,
		BuyerID:    req.BuyerID,
		AmountXMR:  req.AmountXMR,
		OfferID:    req.OfferID,
		EnqueuedAt: now,
	}); err != nil {
		log.Printf("Error publishing trade request:%e", err)
		queuePublishesTotal.WithLabelValues(l.tradeQueue, "failed").Inc()

		err = ErrPublish

		return
	}
	queuePublishesTotal.WithLabelValues(l.tradeQueue, "ok").Inc()

	ack = tradeQueued{
		SellerID:   req.SellerID,
		BuyerID:    req.BuyerID,
		AmountXMR:  req.AmountXMR,
		OfferID:    req.OfferID,
		Queued:     true,
		EnqueuedAt: now,
		Queue:      l.tradeQueue,
	}
}

// withdrawHandler validates a withdrawal against the combined fake and real balance and publishes it to the
// withdraw queue. No funds are debited or reserved here: the wallet manager debits after on-chain execution.
func (l *Ledger) withdrawHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var ack withdrawResponse

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(errStatus(err))
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(ack)
			res.Body = string(tmp)
		}
		// log request and acknowledgement
		log.Printf("httpreq from %v %s ack:%+v err:%e\n", r.RemoteAddr, r.RequestURI, ack, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var id int64
	if id, err = userID(r); err != nil {
		return
	}

	var req withdrawRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding withdraw request %+v\n", r.Body)

		err = ErrBadRequest

		return
	}

	if req.ToAddress == "" {
		err = ErrNoAddress

		return
	}
	if req.AmountXMR <= 0 {
		err = store.ErrInvalidAmount

		return
	}

	// refresh the real denomination best-effort, then check the combined funds
	var bal store.Balance
	if bal, err = l.reconcileReal(r.Context(), id); err != nil {
		return
	}

	total := bal.FakeXMR + bal.RealXMR
	if req.AmountXMR > total+balanceEpsilon {
		err = ErrInsufficientFunds

		return
	}

	// pick a source address best-effort; the wallet manager chooses if none is selected
	source, _ := l.pickWithdrawSource(r.Context(), id, req.AmountXMR)

	if err = l.mb.SendWithdraw(l.withdrawQueue, msg.WithdrawMsg{
		UserID:        id,
		ToAddress:     req.ToAddress,
		AmountXMR:     req.AmountXMR,
		SourceAddress: source,
		RequestedAt:   time.Now().UTC(),
	}); err != nil {
		log.Printf("Error publishing withdraw request:%e", err)
		queuePublishesTotal.WithLabelValues(l.withdrawQueue, "failed").Inc()

		err = ErrPublish

		return
	}
	queuePublishesTotal.WithLabelValues(l.withdrawQueue, "ok").Inc()

	ack = withdrawResponse{
		ToAddress: req.ToAddress,
		AmountXMR: req.AmountXMR,
		TxHash:    nil,
		MoneroResult: map[string]interface{}{
			"queued": true,
			"queue":  l.withdrawQueue,
		},
	}
	if source != "" {
		ack.MoneroResult["source_address"] = source
	}
}
