package dao

import "time"

// TransferDao is a data access object that maps directly to the 'transfers' table in PostgreSQL.
type TransferDao struct {
	tableName        struct{}  `bun:"table:transfers"` // nolint
	ID               string    `json:"id" bun:",pk,type:varchar(128)"`
	Account          string    `json:"account" bun:",notnull,type:varchar(255)"`
	DestinationChain string    `json:"destination_chain" bun:",notnull,type:varchar(64)"`
	Recipient        string    `json:"recipient" bun:",notnull,type:varchar(255)"`
	Amount           string    `json:"amount" bun:",notnull,type:numeric(38,18)"`
	Protocol         string    `json:"protocol" bun:",notnull,type:varchar(32)"`
	Fee              string    `json:"fee" bun:",notnull,type:numeric(38,18)"`
	Status           string    `json:"status" bun:",notnull,type:varchar(20)"`
	CreatedAt        time.Time `json:"created_at" bun:",notnull,nullzero,default:current_timestamp"`
	UpdatedAt        time.Time `json:"updated_at" bun:",notnull,nullzero,default:current_timestamp"`
}
