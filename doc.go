// Package pupero and its sub-packages implement the ledger backend of the Pupero platform, keeping per-user
// balances and routing money movement requests to the rest of the system.
/*
pupero provides one microservice:

a ledger microservice (package ledger) that implements a RESTful API for balance queries and mutations, internal
transfers between users, and the intake of trade and withdrawal requests which are queued for asynchronous
processing by other services.

Architecture

Every user has a balance record with two denominations: fake XMR, an internal credit used for platform trades, and
real XMR, backed by actual funds held in the external wallet manager. The ledger persists these records in its own
database. Its layered implementation (package lib/store) provides a database product agnostic interface with
MongoDB and PostgreSQL backends.

The real denomination is owned by the monero-wallet-manager service, which holds the keys and addresses. The
ledger never talks to a blockchain node itself: it asks the wallet manager for the addresses of a user and their
unlocked balances (package lib/monero) and reconciles the stored real balance against what the wallet manager
reports. When the wallet manager cannot be reached the ledger keeps serving the last stored value.

Trade and withdrawal requests are not executed by the ledger. They are validated, acknowledged to the client and
published to durable queues on a message broker, where the trade engine and the wallet manager consume them. The
message broker is implemented as a product agnostic layer (package lib/msg) and is configured via a JSON config
file at service startup.

The microservice can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Ledger

The ledger microservice (package ledger) can be started running cmd/ledger/main.go. It exposes an HTTP RESTful
API that can be used by multiple clients. The API provides balance get/set/adjust operations, atomic transfers
of fake XMR between users with a persisted ledger entry, a forced refresh of the real balance from the wallet
manager, and the trade and withdraw intake endpoints.

*/
package pupero
