package store

import (
	"context"

	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound  = errors.New("escrow record not found")
	ErrVersionConflict = errors.New("escrow record changed concurrently")
)

// Store persists one escrow record per session id.
//
// Writes are optimistic: Save stores a record of Version n only if the stored
// record is at n-1, or absent when n is 1. Remove deletes only the given
// version. A stale writer gets ErrVersionConflict, so replicas sharing one
// backend never both commit from the same state.
type Store interface {
	Load(ctx context.Context, session string) (*model.EscrowRecord, error)
	Save(ctx context.Context, session string, record *model.EscrowRecord) error
	Remove(ctx context.Context, session string, version uint64) error
}

func checkSavable(record *model.EscrowRecord) error {
	if record == nil {
		return errors.New("nil escrow record")
	}
	if record.Version == 0 {
		return errors.New("escrow record without version")
	}
	return nil
}
