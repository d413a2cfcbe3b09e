package db

import (
	"time"
)

// Transfer is the persisted form of a router transfer record
type Transfer struct {
	ID               string    `db:"id"`
	Account          string    `db:"account"`
	DestinationChain string    `db:"destination_chain"`
	Recipient        string    `db:"recipient"`
	Amount           string    `db:"amount"`
	Protocol         string    `db:"protocol"`
	Fee              string    `db:"fee"`
	Status           string    `db:"status"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// SupplySnapshot is the persisted form of a committed oracle snapshot
type SupplySnapshot struct {
	ChainID   string    `db:"chain_id"`
	Total     string    `db:"total"`
	Locked    string    `db:"locked"`
	Nonce     int64     `db:"nonce"`
	UpdatedAt time.Time `db:"updated_at"`
}
