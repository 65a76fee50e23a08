package store

import (
	"context"
	"time"

	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type escrowRow struct {
	SessionId      string `gorm:"primaryKey"`
	Player1        string
	Player2        string
	Wager          uint64
	GameId         []byte
	Winner         string
	Status         uint8
	CreatedAt      int64 `gorm:"autoCreateTime:false"`
	LastMove       int64
	Creator        string
	Funded         bool
	Paid           bool
	Nonce          string
	Version        uint64
	PayoutReceiver string
	PayoutAmount   uint64
	PayoutReason   string
	Released       bool
	UpdatedAt      time.Time
}

func (escrowRow) TableName() string {
	return "escrow_record"
}

// PostgresStore keeps one row per session in the escrow_record table. Updates
// are conditional on the row version.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Migrate() error {
	return p.db.AutoMigrate(&escrowRow{})
}

func (p *PostgresStore) Load(ctx context.Context, session string) (*model.EscrowRecord, error) {
	var row escrowRow
	result := p.db.WithContext(ctx).
		Where("session_id = ?", session).
		First(&row)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrRecordNotFound, "session %s", session)
	}
	if result.Error != nil {
		return nil, errors.Wrapf(result.Error, "loading session %s", session)
	}

	rec := &model.EscrowRecord{
		Player1:    model.Identity(row.Player1),
		Player2:    model.Identity(row.Player2),
		Wager:      row.Wager,
		GameID:     row.GameId,
		Winner:     model.Identity(row.Winner),
		Status:     model.EscrowStatus(row.Status),
		CreatedAt:  row.CreatedAt,
		LastMoveAt: row.LastMove,
		Creator:    model.Identity(row.Creator),
		Funded:     row.Funded,
		Paid:       row.Paid,
		Nonce:      row.Nonce,
		Version:    row.Version,
		Released:   row.Released,
	}
	if row.PayoutReason != "" {
		rec.Payout = &model.Payout{
			Receiver: model.Identity(row.PayoutReceiver),
			Amount:   row.PayoutAmount,
			Reason:   model.PayoutReason(row.PayoutReason),
		}
	}
	return rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, session string, record *model.EscrowRecord) error {
	if err := checkSavable(record); err != nil {
		return err
	}
	row := escrowRow{
		SessionId: session,
		Player1:   string(record.Player1),
		Player2:   string(record.Player2),
		Wager:     record.Wager,
		GameId:    record.GameID,
		Winner:    string(record.Winner),
		Status:    uint8(record.Status),
		CreatedAt: record.CreatedAt,
		LastMove:  record.LastMoveAt,
		Creator:   string(record.Creator),
		Funded:    record.Funded,
		Paid:      record.Paid,
		Nonce:     record.Nonce,
		Version:   record.Version,
		Released:  record.Released,
		UpdatedAt: time.Now().UTC(),
	}
	if record.Payout != nil {
		row.PayoutReceiver = string(record.Payout.Receiver)
		row.PayoutAmount = record.Payout.Amount
		row.PayoutReason = string(record.Payout.Reason)
	}

	var result *gorm.DB
	if record.Version == 1 {
		result = p.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&row)
	} else {
		result = p.db.WithContext(ctx).
			Model(&escrowRow{}).
			Where("session_id = ? AND version = ?", session, record.Version-1).
			Select("*").
			Updates(&row)
	}
	if result.Error != nil {
		return errors.Wrapf(result.Error, "saving session %s", session)
	}
	if result.RowsAffected != 1 {
		return errors.Wrapf(ErrVersionConflict, "saving session %s at version %d", session, record.Version)
	}
	return nil
}

func (p *PostgresStore) Remove(ctx context.Context, session string, version uint64) error {
	result := p.db.WithContext(ctx).
		Where("session_id = ? AND version = ?", session, version).
		Delete(&escrowRow{})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "removing session %s", session)
	}
	if result.RowsAffected == 0 {
		var count int64
		err := p.db.WithContext(ctx).
			Model(&escrowRow{}).
			Where("session_id = ?", session).
			Count(&count).Error
		if err != nil {
			return errors.Wrapf(err, "removing session %s", session)
		}
		if count > 0 {
			return errors.Wrapf(ErrVersionConflict, "removing session %s at version %d", session, version)
		}
	}
	return nil
}
