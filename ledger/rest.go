package ledger

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Init sets up and starts the http/https server to service the RESTful API for the ledger service. If sslPort,
// sslCert and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (l *Ledger) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", l.homeHandler)
	r.HandleFunc("/healthz", l.healthHandler).Methods("GET")                       // liveness probe
	r.HandleFunc("/balance/{user_id}", l.balanceHandler).Methods("GET")            // get balance, reconciled best-effort
	r.HandleFunc("/balance/{user_id}/refresh", l.refreshHandler).Methods("GET")    // force reconcile against wallet manager
	r.HandleFunc("/balance/{user_id}/set", l.setHandler).Methods("POST")           // overwrite supplied denominations
	r.HandleFunc("/balance/{user_id}/increase", l.increaseHandler).Methods("POST") // credit a denomination
	r.HandleFunc("/balance/{user_id}/decrease", l.decreaseHandler).Methods("POST") // debit a denomination
	r.HandleFunc("/transactions/transfer", l.transferHandler).Methods("POST")      // move fake balance between users
	r.HandleFunc("/transactions/trade", l.tradeHandler).Methods("POST")            // enqueue a trade request
	r.HandleFunc("/withdraw/{user_id}", l.withdrawHandler).Methods("POST")         // enqueue a withdrawal request
	http.Handle("/", r)

	// setup shutdown channel
	l.sc = make(chan struct{})

	// start http server
	if port != "" {
		l.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = l.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		l.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = l.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-l.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}
