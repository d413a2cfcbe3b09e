package dao

import "time"

// SupplySnapshotDao is a data access object that maps directly to the 'supply_snapshots' table in PostgreSQL.
type SupplySnapshotDao struct {
	tableName struct{}  `bun:"table:supply_snapshots"` // nolint
	ChainID   string    `json:"chain_id" bun:",pk,type:varchar(64)"`
	Total     string    `json:"total" bun:",notnull,type:numeric(38,18)"`
	Locked    string    `json:"locked" bun:",notnull,type:numeric(38,18)"`
	Nonce     int64     `json:"nonce" bun:",notnull"`
	UpdatedAt time.Time `json:"updated_at" bun:",notnull,nullzero,default:current_timestamp"`
}
