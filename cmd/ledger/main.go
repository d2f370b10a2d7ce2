// Package main: ledger service.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/ledger"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/config"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/monero"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/msg"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/msg/amqp"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/store"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/store/db"
	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/util"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB

	if !util.In([]string{db.MONGODB, db.POSTGRES}, conf.DbType) {
		log.Panicf("Unknown database type: %s", conf.DbType)
	}

	if dbConn, err = db.New(conf.DbType, conf.DbConn); err != nil {
		panic(err)
	}

	log.Printf("Connecting to database:%+v\n", conf.DbConn)

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(conf.WithdrawQueue, conf.TradeQueue); err != nil {
			panic(err)
		}
	default:
		log.Panicf("Unknown message broker type: %s", conf.MbType)
	}

	// load wallet manager client
	xmr := monero.New(conf.WalletURL, time.Duration(conf.WalletTimeout)*time.Second)

	// create ledger service
	l := ledger.New(conf.DbType, dbConn, mb, xmr, conf.WithdrawQueue, conf.TradeQueue)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		l.Stop()
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Printf("Ledger: %s\n", l.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
