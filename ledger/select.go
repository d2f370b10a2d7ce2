package ledger

import (
	"context"
	"log"
)

// pickWithdrawSource selects at most one source address for a withdrawal of amount. It queries the unlocked
// balance of every address, skipping unreachable ones, and keeps two candidates: the smallest balance that still
// covers the amount, and the largest balance seen. The covering candidate wins when one exists. If no address
// yields a readable balance, no source is selected and the consumer of the queued message chooses.
func (l *Ledger) pickWithdrawSource(ctx context.Context, userID int64, amount float64) (string, bool) {
	addrs, err := l.xmr.Addresses(ctx, userID)
	if err != nil {
		log.Printf("[user %d] Error listing addresses for withdrawal:%v", userID, err)
		return "", false
	}

	var best, cover string
	var bestBal, coverBal float64
	var readable bool

	for _, a := range addrs {
		bal, errBal := l.xmr.UnlockedBalance(ctx, a)
		if errBal != nil {
			log.Printf("[user %d] Error reading balance of %s:%v", userID, a, errBal)
			continue
		}

		if !readable || bal > bestBal {
			best, bestBal = a, bal
		}
		if bal >= amount && (cover == "" || bal < coverBal) {
			cover, coverBal = a, bal
		}
		readable = true
	}

	if !readable {
		return "", false
	}
	if cover != "" {
		return cover, true
	}
	return best, true
}
