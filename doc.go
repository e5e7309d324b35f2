// Project Structure Overview
/*
handoff-backend/
├── cmd/
│   ├── server/          HTTP API
│   └── settlementctl/   migrate, reconcile, dev tokens
├── internal/
│   ├── cache/           Redis read-model cache
│   ├── config/
│   ├── database/        connection, migrations, transactions, error classes
│   ├── events/          domain events: in-process bus, Kafka publisher
│   ├── handlers/
│   ├── i18n/
│   │   └── locales/
│   ├── metrics/         Prometheus collectors
│   ├── middleware/
│   ├── models/
│   ├── router/
│   ├── services/        orders, delivery tokens, escrow ledger, disputes
│   ├── testutil/
│   ├── tests/           end-to-end API suite
│   └── utils/
├── go.mod
└── go.sum
*/

// Package handoff is the settlement backend for person-to-person sales:
// buyer payment is held in escrow, a rider carries the item between two
// single-use verification codes, and funds are released or refunded when
// the handoff completes or a dispute is resolved.
package handoff
