package ledger

import (
	"context"
	"log"
	"math"

	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/store"
)

// balanceEpsilon bounds the floating point drift tolerated between the stored real balance and the wallet
// manager's view before a write-back is worth persisting.
const balanceEpsilon = 1e-12

// fetchState distinguishes a usable amount from a zero across existing addresses and from a provider failure.
// Callers must treat fetchUnknown as "leave the stored value unchanged", never as zero.
type fetchState int

const (
	fetchUnknown fetchState = iota
	fetchZero
	fetchValue
)

type realBalance struct {
	state fetchState
	xmr   float64
}

func (rb realBalance) label() string {
	switch rb.state {
	case fetchValue:
		return "value"
	case fetchZero:
		return "zero"
	}
	return "unknown"
}

// fetchRealXMR asks the wallet manager for the total unlocked balance across the user's addresses. If the user
// has no addresses yet, one is provisioned and the listing retried exactly once. Addresses whose balance query
// fails are logged and skipped.
func (l *Ledger) fetchRealXMR(ctx context.Context, userID int64) realBalance {
	addrs, err := l.xmr.Addresses(ctx, userID)
	if err != nil {
		log.Printf("[user %d] Error listing addresses:%v", userID, err)
		return realBalance{state: fetchUnknown}
	}

	if len(addrs) == 0 {
		if err = l.xmr.CreateAddress(ctx, userID); err != nil {
			log.Printf("[user %d] Error provisioning address:%v", userID, err)
			return realBalance{state: fetchUnknown}
		}

		if addrs, err = l.xmr.Addresses(ctx, userID); err != nil {
			log.Printf("[user %d] Error listing addresses after provisioning:%v", userID, err)
			return realBalance{state: fetchUnknown}
		}

		if len(addrs) == 0 {
			return realBalance{state: fetchUnknown}
		}
	}

	var total float64
	var readable int

	for _, a := range addrs {
		bal, errBal := l.xmr.UnlockedBalance(ctx, a)
		if errBal != nil {
			log.Printf("[user %d] Error reading balance of %s:%v", userID, a, errBal)
			continue
		}

		total += bal
		readable++
	}

	// addresses exist but none answered: zero, which is distinct from not knowing the address list at all
	if readable == 0 {
		return realBalance{state: fetchZero}
	}

	return realBalance{state: fetchValue, xmr: total}
}

// reconcileReal refreshes the stored real balance of the user from the wallet manager. An unknown fetch leaves
// the record untouched, and a fetch within epsilon of the stored value does not write either (no timestamp bump).
func (l *Ledger) reconcileReal(ctx context.Context, userID int64) (store.Balance, error) {
	bal, err := l.db.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return bal, err
	}

	rb := l.fetchRealXMR(ctx, userID)
	reconciliationsTotal.WithLabelValues(rb.label()).Inc()

	if rb.state == fetchUnknown {
		return bal, nil
	}

	fetched := rb.xmr // fetchZero carries 0
	if math.Abs(fetched-bal.RealXMR) <= balanceEpsilon {
		return bal, nil
	}

	return l.db.SetBalance(ctx, userID, nil, &fetched)
}
