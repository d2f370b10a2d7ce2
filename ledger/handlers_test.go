package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/msg"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/store"
)

// memStore implements store.DB in memory so the API can be tested without a database. The write counter lets
// tests assert that enqueue-only endpoints never touch the store.
type memStore struct {
	mu     sync.Mutex
	bals   map[int64]store.Balance
	txs    []store.LedgerTx
	writes int
}

func newMemStore() *memStore {
	return &memStore{bals: map[int64]store.Balance{}}
}

func (m *memStore) getOrCreate(userID int64) store.Balance {
	b, ok := m.bals[userID]
	if !ok {
		b = store.Balance{UserID: userID, UpdatedAt: time.Now().UTC()}
		m.bals[userID] = b
		m.writes++
	}
	return b
}

func (m *memStore) GetOrCreateBalance(ctx context.Context, userID int64) (store.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreate(userID), nil
}

func (m *memStore) SetBalance(ctx context.Context, userID int64, fake, real *float64) (store.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.getOrCreate(userID)
	if fake == nil && real == nil {
		return b, nil
	}
	if fake != nil {
		b.FakeXMR = *fake
	}
	if real != nil {
		b.RealXMR = *real
	}
	b.UpdatedAt = time.Now().UTC()
	m.bals[userID] = b
	m.writes++
	return b, nil
}

func (m *memStore) AdjustBalance(ctx context.Context, userID int64, amount float64, kind string, decrease bool) (store.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount <= 0 {
		return store.Balance{}, store.ErrInvalidAmount
	}
	if kind != store.Fake && kind != store.Real {
		return store.Balance{}, store.ErrInvalidKind
	}
	b := m.getOrCreate(userID)
	if decrease {
		if kind == store.Real && b.RealXMR < amount {
			return store.Balance{}, store.ErrInsufficientReal
		}
		if kind == store.Fake && b.FakeXMR < amount {
			return store.Balance{}, store.ErrInsufficientFake
		}
		amount = -amount
	}
	if kind == store.Real {
		b.RealXMR += amount
	} else {
		b.FakeXMR += amount
	}
	b.UpdatedAt = time.Now().UTC()
	m.bals[userID] = b
	m.writes++
	return b, nil
}

func (m *memStore) Transfer(ctx context.Context, fromUserID, toUserID int64, amount float64) (store.LedgerTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount <= 0 {
		return store.LedgerTx{}, store.ErrInvalidAmount
	}
	from := m.getOrCreate(fromUserID)
	to := m.getOrCreate(toUserID)
	if from.FakeXMR < amount {
		return store.LedgerTx{}, store.ErrInsufficientFake
	}
	from.FakeXMR -= amount
	to.FakeXMR += amount
	m.bals[fromUserID] = from
	m.bals[toUserID] = to
	tx := store.LedgerTx{
		ID:         uuid.NewString(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		AmountXMR:  amount,
		Status:     "completed",
		CreatedAt:  time.Now().UTC(),
	}
	m.txs = append(m.txs, tx)
	m.writes++
	return tx, nil
}

// fakeBroker records published messages and can be switched to fail.
type fakeBroker struct {
	mu        sync.Mutex
	fail      bool
	withdraws []msg.WithdrawMsg
	trades    []msg.TradeMsg
}

func (f *fakeBroker) Setup(queues ...string) error { return nil }
func (f *fakeBroker) Close() error                 { return nil }

func (f *fakeBroker) SendWithdraw(queue string, w msg.WithdrawMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	w.Type = msg.WITHDRAW
	f.withdraws = append(f.withdraws, w)
	return nil
}

func (f *fakeBroker) SendTrade(queue string, tr msg.TradeMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	tr.Type = msg.TRADE
	f.trades = append(f.trades, tr)
	return nil
}

// stubProvider implements monero.Provider with scripted addresses and balances.
type stubProvider struct {
	mu        sync.Mutex
	addrs     []string
	balances  map[string]float64
	listErr   bool
	createErr bool
	newAddr   string // address appended by CreateAddress, none when empty
	created   int
}

func (s *stubProvider) Addresses(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr {
		return nil, errors.New("wallet manager unreachable")
	}
	return append([]string{}, s.addrs...), nil
}

func (s *stubProvider) CreateAddress(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr {
		return errors.New("wallet manager unreachable")
	}
	s.created++
	if s.newAddr != "" {
		s.addrs = append(s.addrs, s.newAddr)
	}
	return nil
}

func (s *stubProvider) UnlockedBalance(ctx context.Context, address string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[address]
	if !ok {
		return 0, errors.New("no such address")
	}
	return bal, nil
}

func TestAPI(t *testing.T) {
	ms := newMemStore()
	fb := &fakeBroker{}
	sp := &stubProvider{addrs: []string{"4Bmain"}, balances: map[string]float64{"4Bmain": 0}}

	// set up server for API. The empty dbtype makes Stop skip the real database close.
	l := New("", ms, fb, sp, "withdraw-requests", "trade-requests")
	go l.Init("", "3031", "", "", "")
	time.Sleep(200 * time.Millisecond) // let the server come up

	base := "http://localhost:3031"

	// define tests
	cases := []struct {
		name, method, uri string      // case name, http method to use and uri
		obj               interface{} // object for POST
		status            int         // http status code
		errExp            string      // error expected
		fake, real        float64     // balance expected in the body
	}{
		{"home_1", http.MethodGet, base + "/", nil, http.StatusOK, "", 0, 0},
		{"health_1", http.MethodGet, base + "/healthz", nil, http.StatusOK, "", 0, 0},
		{"balget_1", http.MethodGet, base + "/balance/7", nil, http.StatusOK, "", 0, 0},
		{"balget_2", http.MethodGet, base + "/balance/abc", nil, http.StatusBadRequest, "bad request", 0, 0},
		{"refresh_1", http.MethodGet, base + "/balance/7/refresh", nil, http.StatusOK, "", 0, 0},
		{"balset_1", http.MethodPost, base + "/balance/7/set", balanceSetRequest{FakeXMR: f64(12.5)}, http.StatusOK, "", 12.5, 0},
		{"balset_2", http.MethodPost, base + "/balance/7/set", balanceSetRequest{}, http.StatusOK, "", 12.5, 0},
		{"adjinc_1", http.MethodPost, base + "/balance/7/increase", balanceAdjustRequest{AmountXMR: 2.5}, http.StatusOK, "", 15, 0},
		{"adjinc_2", http.MethodPost, base + "/balance/7/increase", balanceAdjustRequest{AmountXMR: 1, Kind: "real"}, http.StatusOK, "", 15, 1},
		{"adjinc_3", http.MethodPost, base + "/balance/7/increase", balanceAdjustRequest{AmountXMR: -1}, http.StatusBadRequest, "amount must be greater than zero", 0, 0},
		{"adjinc_4", http.MethodPost, base + "/balance/7/increase", balanceAdjustRequest{AmountXMR: 1, Kind: "credit"}, http.StatusBadRequest, "kind must be fake or real", 0, 0},
		{"adjdec_1", http.MethodPost, base + "/balance/7/decrease", balanceAdjustRequest{AmountXMR: 5}, http.StatusOK, "", 10, 1},
		{"adjdec_2", http.MethodPost, base + "/balance/7/decrease", balanceAdjustRequest{AmountXMR: 100}, http.StatusBadRequest, "insufficient fake balance", 0, 0},
		{"adjdec_3", http.MethodPost, base + "/balance/7/decrease", balanceAdjustRequest{AmountXMR: 2, Kind: "real"}, http.StatusBadRequest, "insufficient real balance", 0, 0},
		{"transfer_1", http.MethodPost, base + "/transactions/transfer", transferRequest{FromUserID: 7, ToUserID: 8, AmountXMR: 4}, http.StatusOK, "", 0, 0},
		{"transfer_2", http.MethodPost, base + "/transactions/transfer", transferRequest{FromUserID: 7, ToUserID: 8, AmountXMR: 1000}, http.StatusBadRequest, "insufficient fake balance", 0, 0},
		{"transfer_3", http.MethodPost, base + "/transactions/transfer", transferRequest{FromUserID: 7, ToUserID: 8, AmountXMR: 0}, http.StatusBadRequest, "amount must be greater than zero", 0, 0},
		{"trade_1", http.MethodPost, base + "/transactions/trade", tradeRequest{SellerID: 1, BuyerID: 2, AmountXMR: 1.5, OfferID: "offer-9"}, http.StatusOK, "", 0, 0},
		{"trade_2", http.MethodPost, base + "/transactions/trade", tradeRequest{SellerID: 1, BuyerID: 2, AmountXMR: 0}, http.StatusBadRequest, "amount must be greater than zero", 0, 0},
	}

	// run tests
	for _, c := range cases {
		s, b, e, err := makeRequest(c.method, c.uri, c.obj)
		if err != nil {
			t.Errorf("[%s] Error in request:%e", c.name, err)
		} else if s != c.status {
			t.Errorf("[%s] Error in StatusCode:%d expected:%d (err:%s)", c.name, s, c.status, e)
		} else if e != c.errExp {
			t.Errorf("[%s] Error in response:%s expected:%s", c.name, e, c.errExp)
		} else if s == http.StatusOK {
			switch c.name[:len(c.name)-2] {
			case "balget", "refresh", "balset", "adjinc", "adjdec":
				var bal store.Balance
				if err = json.Unmarshal([]byte(b), &bal); err != nil {
					t.Errorf("[%s] Error unmarshaling body:%s error:%s", c.name, b, err)
				}
				if bal.FakeXMR != c.fake || bal.RealXMR != c.real {
					t.Errorf("[%s] Error in response:%+v expected fake:%f real:%f", c.name, bal, c.fake, c.real)
				}
			case "transfer":
				var tx store.LedgerTx
				if err = json.Unmarshal([]byte(b), &tx); err != nil {
					t.Errorf("[%s] Error unmarshaling body:%s error:%s", c.name, b, err)
				}
				if tx.Status != "completed" || tx.ID == "" || tx.AmountXMR != 4 {
					t.Errorf("[%s] Error in response:%+v", c.name, tx)
				}
			case "trade":
				var ack tradeQueued
				if err = json.Unmarshal([]byte(b), &ack); err != nil {
					t.Errorf("[%s] Error unmarshaling body:%s error:%s", c.name, b, err)
				}
				if !ack.Queued || ack.Queue != "trade-requests" || ack.AmountXMR != 1.5 || ack.OfferID != "offer-9" {
					t.Errorf("[%s] Error in response:%+v", c.name, ack)
				}
			}
		}
	}

	// the transfer must have moved the fake balance
	if ms.bals[7].FakeXMR != 6 || ms.bals[8].FakeXMR != 4 {
		t.Errorf("balances after transfer do not match:%+v %+v", ms.bals[7], ms.bals[8])
	}
	if len(ms.txs) != 1 {
		t.Errorf("expected one ledger entry, got:%d", len(ms.txs))
	}

	// the trade must have been published without touching the store
	if len(fb.trades) != 1 || fb.trades[0].Type != "trade" || fb.trades[0].SellerID != 1 || fb.trades[0].AmountXMR != 1.5 {
		t.Errorf("trade message does not match:%+v", fb.trades)
	}
	writes := ms.writes
	if s, _, _, _ := makeRequest(http.MethodPost, base+"/transactions/trade", tradeRequest{SellerID: 3, BuyerID: 4, AmountXMR: 2}); s != http.StatusOK {
		t.Errorf("Error in StatusCode:%d", s)
	}
	if ms.writes != writes {
		t.Errorf("trade wrote to the store: %d writes before, %d after", writes, ms.writes)
	}

	l.Stop()
}

// TestWithdraw drives the withdraw endpoint: reconciliation, the combined funds check, source selection and the
// publish failure path.
func TestWithdraw(t *testing.T) {
	ms := newMemStore()
	fb := &fakeBroker{}
	sp := &stubProvider{addrs: []string{"4Bmain"}, balances: map[string]float64{"4Bmain": 0.05}}

	l := New("", ms, fb, sp, "withdraw-requests", "trade-requests")

	// seed the fake denomination, the real one comes from the provider
	fake := 0.05
	if _, err := ms.SetBalance(context.Background(), 9, &fake, nil); err != nil {
		t.Fatalf("err:%e", err)
	}

	// combined funds 0.05 + 0.05 cover exactly 0.1
	rw := httptest.NewRecorder()
	l.withdrawHandler(rw, postReq("/withdraw/9", withdrawRequest{ToAddress: "48dest", AmountXMR: 0.1}, "9"))
	if rw.Code != http.StatusOK {
		t.Fatalf("Error in StatusCode:%d body:%s", rw.Code, rw.Body.String())
	}
	var res Response
	if err := json.Unmarshal(rw.Body.Bytes(), &res); err != nil {
		t.Fatalf("Error unmarshaling response:%e", err)
	}
	var ack withdrawResponse
	if err := json.Unmarshal([]byte(res.Body), &ack); err != nil {
		t.Fatalf("Error unmarshaling body:%s err:%e", res.Body, err)
	}
	if ack.ToAddress != "48dest" || ack.AmountXMR != 0.1 || ack.TxHash != nil {
		t.Errorf("acknowledgement does not match:%+v", ack)
	}
	if len(fb.withdraws) != 1 {
		t.Fatalf("expected one withdraw message, got:%d", len(fb.withdraws))
	}
	w := fb.withdraws[0]
	if w.Type != "withdraw" || w.UserID != 9 || w.ToAddress != "48dest" || w.AmountXMR != 0.1 || w.SourceAddress != "4Bmain" {
		t.Errorf("withdraw message does not match:%+v", w)
	}

	// no debit happened: stored balances are unchanged by the enqueue
	if ms.bals[9].FakeXMR != 0.05 || ms.bals[9].RealXMR != 0.05 {
		t.Errorf("balances changed after withdraw:%+v", ms.bals[9])
	}

	// 0.11 exceeds the combined funds beyond epsilon
	writes := ms.writes
	rw = httptest.NewRecorder()
	l.withdrawHandler(rw, postReq("/withdraw/9", withdrawRequest{ToAddress: "48dest", AmountXMR: 0.11}, "9"))
	if rw.Code != http.StatusBadRequest {
		t.Errorf("Error in StatusCode:%d expected:%d", rw.Code, http.StatusBadRequest)
	}
	res = Response{}
	_ = json.Unmarshal(rw.Body.Bytes(), &res)
	if res.Error != "insufficient funds" {
		t.Errorf("Error in response:%s expected:insufficient funds", res.Error)
	}
	if ms.writes != writes {
		t.Errorf("failed withdraw wrote to the store")
	}

	// missing destination address
	rw = httptest.NewRecorder()
	l.withdrawHandler(rw, postReq("/withdraw/9", withdrawRequest{AmountXMR: 0.01}, "9"))
	if rw.Code != http.StatusBadRequest {
		t.Errorf("Error in StatusCode:%d expected:%d", rw.Code, http.StatusBadRequest)
	}

	// broker down turns into a gateway error
	fb.fail = true
	rw = httptest.NewRecorder()
	l.withdrawHandler(rw, postReq("/withdraw/9", withdrawRequest{ToAddress: "48dest", AmountXMR: 0.01}, "9"))
	if rw.Code != http.StatusBadGateway {
		t.Errorf("Error in StatusCode:%d expected:%d", rw.Code, http.StatusBadGateway)
	}
}

func f64(v float64) *float64 { return &v }

// postReq builds a POST request to the given uri with obj as JSON body and the user_id route variable set, so
// handlers can be driven without going through the router.
func postReq(uri string, obj interface{}, userID string) *http.Request {
	pl, _ := json.Marshal(obj)
	req := httptest.NewRequest(http.MethodPost, uri, bytes.NewReader(pl))
	return mux.SetURLVars(req, map[string]string{"user_id": userID})
}

// makeRequest places a http request on uri. Depending on method it will include obj in the request (ie. for
// POST). Returns the status code, the body and error fields of the received JSON response.
func makeRequest(method, uri string, obj interface{}) (s int, b, e string, err error) {
	var resp *http.Response
	switch method {
	case http.MethodGet:
		if resp, err = http.Get(uri); err != nil {
			return
		}
	case http.MethodPost:
		var pl []byte
		if pl, err = json.Marshal(obj); err != nil {
			return
		}
		if resp, err = http.Post(uri, "application/json;charset=utf8", bytes.NewBuffer(pl)); err != nil {
			return
		}
	default:
		err = errors.New("Method not found!!")
		return
	}

	s = resp.StatusCode
	var v struct {
		B string `json:"body"`
		E string `json:"error"`
	}
	err = json.NewDecoder(resp.Body).Decode(&v)
	resp.Body.Close()
	return s, v.B, v.E, err
}
