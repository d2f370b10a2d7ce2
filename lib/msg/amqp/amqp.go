// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"

	"github.com/streadway/amqp"

	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/msg"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}
	r.ch = nil
	log.Printf("Connected to %s", uri)

	return &r, err
}

// Setup obtains an amqp channel and declares the durable queues the ledger publishes to. Consumers read from the
// same queues, so messages survive broker restarts and wait until a consumer is up.
func (r *Amqp) Setup(queues ...string) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare queues
	for _, q := range queues {
		if _, err = channel.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close terminages gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}
		r.ch = nil
		log.Printf("amqp.Channel closed!")
	}
	return r.conn.Close()
}

// publish sends a persistent JSON document to the named queue via the default exchange.
func (r *Amqp) publish(queue string, doc interface{}) (err error) {
	// marshal to JSON
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(doc); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Body:         jsonDoc,
		ContentType:  "application/json",
	}
	// publish to the default exchange, routing key is the queue name
	if err = r.ch.Publish("", queue, false, false, m); err != nil {
		log.Printf("[%s] Error sending message to broker %e", queue, err)
	}
	return
}

// SendWithdraw publishes a withdrawal request to the given queue.
func (r *Amqp) SendWithdraw(queue string, w msg.WithdrawMsg) error {
	w.Type = msg.WITHDRAW
	return r.publish(queue, w)
}

// SendTrade publishes a trade request to the given queue.
func (r *Amqp) SendTrade(queue string, tr msg.TradeMsg) error {
	tr.Type = msg.TRADE
	return r.publish(queue, tr)
}
