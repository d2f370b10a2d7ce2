// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/store"
)

const (
	database     = "ledger"
	balancesCol  = "balances"
	transfersCol = "transfers"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	// the upsert in GetOrCreateBalance needs user_id unique so concurrent creators collapse into one document
	_, err = c.Database(database).Collection(balancesCol).Indexes().CreateOne(ctx, mgo.IndexModel{
		Keys:    bson.M{"user_id": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("error creating balances index: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) balances() *mgo.Collection {
	return m.c.Database(database).Collection(balancesCol)
}

// GetOrCreateBalance returns the balance record for userID. If the user has no record yet, a zeroed one is
// inserted and returned. Concurrent callers converge on the same record via the upsert.
func (m *Mongo) GetOrCreateBalance(ctx context.Context, userID int64) (store.Balance, error) {
	var bal store.Balance

	filter := bson.M{"user_id": userID}
	update := bson.M{"$setOnInsert": bson.M{
		"user_id":    userID,
		"fake_xmr":   float64(0),
		"real_xmr":   float64(0),
		"updated_at": time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	if err := m.balances().FindOneAndUpdate(ctx, filter, update, opts).Decode(&bal); err != nil {
		return bal, fmt.Errorf("could not get or create balance for user %d: %w", userID, err)
	}

	return bal, nil
}

// SetBalance overwrites only the denominations supplied. Nil pointers leave fields untouched and a call with no
// fields does not write at all, it just returns the current record.
func (m *Mongo) SetBalance(ctx context.Context, userID int64, fake, real *float64) (store.Balance, error) {
	// make sure the record exists first
	bal, err := m.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return bal, err
	}

	set := bson.M{}
	if fake != nil {
		set["fake_xmr"] = *fake
	}
	if real != nil {
		set["real_xmr"] = *real
	}
	if len(set) == 0 {
		return bal, nil
	}
	set["updated_at"] = time.Now().UTC()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	err = m.balances().FindOneAndUpdate(ctx, bson.M{"user_id": userID}, bson.M{"$set": set}, opts).Decode(&bal)
	if err != nil {
		return bal, fmt.Errorf("could not set balance for user %d: %w", userID, err)
	}

	return bal, nil
}

// AdjustBalance adds or subtracts amount from the given denomination. A decrease only succeeds if the stored
// value covers the amount; the conditional filter makes the check and the write one atomic operation.
func (m *Mongo) AdjustBalance(ctx context.Context, userID int64, amount float64, kind string, decrease bool) (store.Balance, error) {
	var bal store.Balance

	if amount <= 0 {
		return bal, store.ErrInvalidAmount
	}

	var field string
	switch kind {
	case store.Fake:
		field = "fake_xmr"
	case store.Real:
		field = "real_xmr"
	default:
		return bal, store.ErrInvalidKind
	}

	// make sure the record exists first
	if _, err := m.GetOrCreateBalance(ctx, userID); err != nil {
		return bal, err
	}

	filter := bson.M{"user_id": userID}
	inc := amount
	if decrease {
		filter[field] = bson.M{"$gte": amount}
		inc = -amount
	}
	update := bson.M{
		"$inc": bson.M{field: inc},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	err := m.balances().FindOneAndUpdate(ctx, filter, update, opts).Decode(&bal)
	if errors.Is(err, mgo.ErrNoDocuments) { // record exists, so the funds condition failed
		if kind == store.Real {
			return bal, store.ErrInsufficientReal
		}

		return bal, store.ErrInsufficientFake
	}

	if err != nil {
		return bal, fmt.Errorf("could not adjust balance for user %d: %w", userID, err)
	}

	return bal, nil
}

// Transfer moves amount of fake balance from one user to the other and records the ledger entry, all within a
// single mongo transaction. Requires the server to run as a replica set.
func (m *Mongo) Transfer(ctx context.Context, fromUserID, toUserID int64, amount float64) (store.LedgerTx, error) {
	var tx store.LedgerTx

	if amount <= 0 {
		return tx, store.ErrInvalidAmount
	}

	// make sure both records exist before opening the transaction
	if _, err := m.GetOrCreateBalance(ctx, fromUserID); err != nil {
		return tx, err
	}
	if _, err := m.GetOrCreateBalance(ctx, toUserID); err != nil {
		return tx, err
	}

	sess, err := m.c.StartSession()
	if err != nil {
		return tx, fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	tx = store.LedgerTx{
		ID:         uuid.NewString(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		AmountXMR:  amount,
		Status:     "completed",
		CreatedAt:  time.Now().UTC(),
	}

	_, err = sess.WithTransaction(ctx, func(sc mgo.SessionContext) (interface{}, error) {
		now := time.Now().UTC()
		// conditional debit of the sender
		res, errUpd := m.balances().UpdateOne(sc,
			bson.M{"user_id": fromUserID, "fake_xmr": bson.M{"$gte": amount}},
			bson.M{"$inc": bson.M{"fake_xmr": -amount}, "$set": bson.M{"updated_at": now}})
		if errUpd != nil {
			return nil, errUpd
		}
		if res.ModifiedCount != 1 {
			return nil, store.ErrInsufficientFake
		}
		// credit the receiver
		if _, errUpd = m.balances().UpdateOne(sc,
			bson.M{"user_id": toUserID},
			bson.M{"$inc": bson.M{"fake_xmr": amount}, "$set": bson.M{"updated_at": now}}); errUpd != nil {
			return nil, errUpd
		}
		// persist the ledger entry
		_, errUpd = m.c.Database(database).Collection(transfersCol).InsertOne(sc, tx)

		return nil, errUpd
	})
	if errors.Is(err, store.ErrInsufficientFake) {
		return store.LedgerTx{}, store.ErrInsufficientFake
	}

	if err != nil {
		return store.LedgerTx{}, fmt.Errorf("could not transfer %f from user %d to user %d: %w", amount, fromUserID, toUserID, err)
	}

	return tx, nil
}
