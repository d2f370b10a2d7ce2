// Package monero implements the client for the monero-wallet-manager REST API. The wallet manager owns the
// keys and sub-addresses of every user; the ledger only reads addresses and unlocked balances from it and asks
// it to provision an address when a user has none.
package monero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Provider defines the wallet manager operations used by the ledger.
type Provider interface {
	// Addresses returns the sub-addresses assigned to the user. An empty slice means none provisioned yet.
	Addresses(ctx context.Context, userID int64) ([]string, error)
	// CreateAddress asks the wallet manager to provision a sub-address for the user.
	CreateAddress(ctx context.Context, userID int64) error
	// UnlockedBalance returns the spendable XMR held at the given address.
	UnlockedBalance(ctx context.Context, address string) (float64, error)
}

// Client implements Provider over the wallet manager's HTTP API.
type Client struct {
	base string
	c    *http.Client
}

// New returns a Client for the wallet manager at base. All requests share the given timeout.
func New(base string, timeout time.Duration) *Client {
	return &Client{
		base: base,
		c:    &http.Client{Timeout: timeout},
	}
}

type addressDoc struct {
	Address string `json:"address"`
}

// Addresses returns the sub-addresses assigned to the user.
func (m *Client) Addresses(ctx context.Context, userID int64) ([]string, error) {
	u := m.base + "/addresses?user_id=" + url.QueryEscape(strconv.FormatInt(userID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("could not build addresses request: %w", err)
	}

	resp, err := m.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not get addresses for user %d: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wallet manager replied %d to addresses request for user %d", resp.StatusCode, userID)
	}

	var docs []addressDoc
	if err = json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("could not decode addresses for user %d: %w", userID, err)
	}

	addrs := make([]string, 0, len(docs))
	for _, d := range docs {
		addrs = append(addrs, d.Address)
	}

	return addrs, nil
}

// CreateAddress asks the wallet manager to provision a sub-address for the user.
func (m *Client) CreateAddress(ctx context.Context, userID int64) error {
	body, err := json.Marshal(map[string]int64{"user_id": userID})
	if err != nil {
		return fmt.Errorf("could not build create address request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+"/addresses", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not build create address request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.c.Do(req)
	if err != nil {
		return fmt.Errorf("could not create address for user %d: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("wallet manager replied %d to create address for user %d", resp.StatusCode, userID)
	}

	return nil
}

type balanceDoc struct {
	UnlockedBalanceXMR float64 `json:"unlocked_balance_xmr"`
}

// UnlockedBalance returns the spendable XMR held at the given address.
func (m *Client) UnlockedBalance(ctx context.Context, address string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base+"/balance/"+url.PathEscape(address), nil)
	if err != nil {
		return 0, fmt.Errorf("could not build balance request: %w", err)
	}

	resp, err := m.c.Do(req)
	if err != nil {
		return 0, fmt.Errorf("could not get balance of %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("wallet manager replied %d to balance request for %s", resp.StatusCode, address)
	}

	var doc balanceDoc
	if err = json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return 0, fmt.Errorf("could not decode balance of %s: %w", address, err)
	}

	return doc.UnlockedBalanceXMR, nil
}
