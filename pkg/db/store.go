// Package db provides the Postgres audit mirror for transfers and supply
// snapshots. The in-memory state remains authoritative; failures here are
// logged by the callers and never abort an operation.
package db

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/chainsafe/bridge-router/pkg/router"
)

// Store provides database operations for the router
type Store struct {
	db *sql.DB
}

// NewStore creates a new database store
func NewStore(connString string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an already-open connection
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTransfer persists a new transfer record
func (s *Store) SaveTransfer(rec *router.TransferRecord) error {
	query := `
		INSERT INTO transfers (
			id, account, destination_chain, recipient, amount,
			protocol, fee, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.Exec(query,
		rec.ID, rec.Account, rec.DestinationChain,
		hex.EncodeToString(rec.Recipient), rec.Amount.String(),
		string(rec.Protocol), rec.Fee.String(), string(rec.Status),
		rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

// UpdateTransferStatus updates the status of a transfer
func (s *Store) UpdateTransferStatus(id string, status string) error {
	query := `
		UPDATE transfers
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	_, err := s.db.Exec(query, status, time.Now(), id)
	return err
}

// GetTransfer retrieves a transfer by ID
func (s *Store) GetTransfer(id string) (*Transfer, error) {
	transfer := &Transfer{}
	query := `
		SELECT id, account, destination_chain, recipient, amount,
			protocol, fee, status, created_at, updated_at
		FROM transfers WHERE id = $1
	`
	err := s.db.QueryRow(query, id).Scan(
		&transfer.ID, &transfer.Account, &transfer.DestinationChain,
		&transfer.Recipient, &transfer.Amount, &transfer.Protocol,
		&transfer.Fee, &transfer.Status, &transfer.CreatedAt, &transfer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// ListTransfersByAccount retrieves transfers initiated by an account,
// oldest first
func (s *Store) ListTransfersByAccount(account string) ([]*Transfer, error) {
	query := `
		SELECT id, account, destination_chain, recipient, amount,
			protocol, fee, status, created_at, updated_at
		FROM transfers
		WHERE account = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(query, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		transfer := &Transfer{}
		err := rows.Scan(
			&transfer.ID, &transfer.Account, &transfer.DestinationChain,
			&transfer.Recipient, &transfer.Amount, &transfer.Protocol,
			&transfer.Fee, &transfer.Status, &transfer.CreatedAt, &transfer.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
	}
	return transfers, rows.Err()
}

// SaveSnapshot upserts the committed supply snapshot for a chain
func (s *Store) SaveSnapshot(chainID, total, locked string, nonce int64) error {
	query := `
		INSERT INTO supply_snapshots (chain_id, total, locked, nonce)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id)
		DO UPDATE SET total = $2, locked = $3, nonce = $4, updated_at = NOW()
	`
	_, err := s.db.Exec(query, chainID, total, locked, nonce)
	return err
}

// GetSnapshot retrieves the committed supply snapshot for a chain
func (s *Store) GetSnapshot(chainID string) (*SupplySnapshot, error) {
	snapshot := &SupplySnapshot{}
	query := `SELECT chain_id, total, locked, nonce, updated_at FROM supply_snapshots WHERE chain_id = $1`
	err := s.db.QueryRow(query, chainID).Scan(
		&snapshot.ChainID, &snapshot.Total, &snapshot.Locked,
		&snapshot.Nonce, &snapshot.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}
