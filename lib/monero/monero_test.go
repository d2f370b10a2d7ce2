package monero

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockWalletManager serves the subset of the wallet manager API used by the client.
func mockWalletManager() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/addresses", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("user_id") == "42" {
				json.NewEncoder(w).Encode([]map[string]string{{"address": "4Bmain"}, {"address": "4Bchange"}})
				return
			}
			json.NewEncoder(w).Encode([]map[string]string{})
		case http.MethodPost:
			var body map[string]int64
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["user_id"] == 0 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
		}
	})
	mux.HandleFunc("/balance/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/balance/4Bmain" {
			json.NewEncoder(w).Encode(map[string]float64{"unlocked_balance_xmr": 1.75})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

func TestAddresses(t *testing.T) {
	mock := mockWalletManager()
	defer mock.Close()

	c := New(mock.URL, 2*time.Second)

	addrs, err := c.Addresses(context.Background(), 42)
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	if len(addrs) != 2 || addrs[0] != "4Bmain" || addrs[1] != "4Bchange" {
		t.Errorf("addresses do not match:%v", addrs)
	}

	addrs, err = c.Addresses(context.Background(), 7)
	if err != nil || len(addrs) != 0 {
		t.Errorf("expected no addresses, got:%v err:%e", addrs, err)
	}
}

func TestCreateAddress(t *testing.T) {
	mock := mockWalletManager()
	defer mock.Close()

	c := New(mock.URL, 2*time.Second)

	if err := c.CreateAddress(context.Background(), 42); err != nil {
		t.Errorf("err:%e", err)
	}
}

func TestUnlockedBalance(t *testing.T) {
	mock := mockWalletManager()
	defer mock.Close()

	c := New(mock.URL, 2*time.Second)

	bal, err := c.UnlockedBalance(context.Background(), "4Bmain")
	if err != nil || bal != 1.75 {
		t.Errorf("balance does not match:%f err:%e", bal, err)
	}

	// unknown address is an error, not a zero
	if _, err = c.UnlockedBalance(context.Background(), "4Bmissing"); err == nil {
		t.Errorf("expected error for unknown address")
	}
}

func TestProviderDown(t *testing.T) {
	mock := mockWalletManager()
	mock.Close() // nothing listening any more

	c := New(mock.URL, 500*time.Millisecond)

	if _, err := c.Addresses(context.Background(), 42); err == nil {
		t.Errorf("expected error when wallet manager is down")
	}
	if _, err := c.UnlockedBalance(context.Background(), "4Bmain"); err == nil {
		t.Errorf("expected error when wallet manager is down")
	}
}
