// package ledger implements the ledger microservice.
//
// This microservice implements a RESTful API for clients to query and mutate user balances, transfer fake XMR
// between users and submit trade and withdrawal requests, which are published to durable broker queues for the
// downstream services to execute.
package ledger

import (
	"context"
	"log"
	"net/http"

	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/monero"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/msg"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/store"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/store/db"
)

// Ledger contains the data necessary to deliver the service
type Ledger struct {
	dbtype        string
	db            store.DB        // db connection
	mb            msg.MsgBroker   // message broker connection
	xmr           monero.Provider // wallet manager client
	withdrawQueue string          // queue consumed by the wallet manager
	tradeQueue    string          // queue consumed by the trade engine
	s             *http.Server    // http server
	ss            *http.Server    // https server
	sc            chan struct{}   // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Ledger service
func New(dbtype string, dbConn store.DB, mb msg.MsgBroker, xmr monero.Provider, withdrawQueue, tradeQueue string) *Ledger {
	return &Ledger{
		dbtype:        dbtype,
		db:            dbConn,
		mb:            mb,
		xmr:           xmr,
		withdrawQueue: withdrawQueue,
		tradeQueue:    tradeQueue,
	}
}

// Stop shuts down the http servers implementing the RESTful API and closes gracefully the connections to message
// broker and database.
func (l *Ledger) Stop() {
	var err error
	// shutdown http server
	if l.s != nil {
		if err = l.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}
	if l.ss != nil {
		if err = l.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}
	close(l.sc) // close server channels to indicate shutdowns have finished
	// close message broker
	if l.mb != nil {
		if err = l.mb.Close(); err != nil {
			log.Printf("Error closing message broker:%e", err)
		}
	}
	// close database
	if l.db != nil {
		err = db.Close(l.dbtype, l.db)
		log.Printf("Disconnecting %v database, err:%e\n", l.dbtype, err)
	}
}
