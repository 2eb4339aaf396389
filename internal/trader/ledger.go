package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type TradeStatus int

const (
	TradeStatusOpen   TradeStatus = 1
	TradeStatusClosed TradeStatus = 2
)

// TradeModel is one grid entry as persisted. A cycle's entries share a
// SessionID and CycleID; closing the grid stamps all of them in one update.
type TradeModel struct {
	ID         int64          `gorm:"column:id;primaryKey"`
	SessionID  string         `gorm:"column:session_id;index"`
	CycleID    string         `gorm:"column:cycle_id;index"`
	Pair       string         `gorm:"column:pair;index"`
	Level      int            `gorm:"column:level"`
	EntryPrice float64        `gorm:"column:entry_price"`
	ExitPrice  float64        `gorm:"column:exit_price"`
	Size       float64        `gorm:"column:size"`
	PnL        float64        `gorm:"column:pnl"`
	Status     TradeStatus    `gorm:"column:status"`
	Metadata   datatypes.JSON `gorm:"column:metadata;type:TEXT"`
	OpenedAt   int64          `gorm:"column:opened_at"`
	ClosedAt   int64          `gorm:"column:closed_at"`
}

func (TradeModel) TableName() string { return "trades" }

// Ledger records every grid entry and exit in sqlite so a session's trade
// history survives restarts and resets.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(path string) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewLedgerFromDB(db)
}

func NewLedgerFromDB(db *gorm.DB) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&TradeModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Ledger{db: db}, nil
}

// RecordEntry inserts a new open trade row for one grid level.
func (l *Ledger) RecordEntry(ctx context.Context, t TradeModel) (int64, error) {
	if t.OpenedAt == 0 {
		t.OpenedAt = time.Now().Unix()
	}
	t.Status = TradeStatusOpen
	if err := l.db.WithContext(ctx).Create(&t).Error; err != nil {
		return 0, err
	}
	return t.ID, nil
}

// CloseCycle marks every open trade of a cycle closed at exitPrice and
// returns how many rows it touched. PnL per row is (exit - entry) * quantity.
func (l *Ledger) CloseCycle(ctx context.Context, sessionID, cycleID string, exitPrice float64) (int64, error) {
	now := time.Now().Unix()
	var trades []TradeModel
	tx := l.db.WithContext(ctx)
	if err := tx.Where("session_id = ? AND cycle_id = ? AND status = ?",
		sessionID, cycleID, TradeStatusOpen).Find(&trades).Error; err != nil {
		return 0, err
	}
	for i := range trades {
		t := &trades[i]
		t.ExitPrice = exitPrice
		t.ClosedAt = now
		t.Status = TradeStatusClosed
		if t.EntryPrice > 0 {
			qty := t.Size / t.EntryPrice
			t.PnL = (exitPrice - t.EntryPrice) * qty
		}
		if err := tx.Save(t).Error; err != nil {
			return int64(i), err
		}
	}
	return int64(len(trades)), nil
}

// TradesForSession returns the session's trades, most recent first.
func (l *Ledger) TradesForSession(ctx context.Context, sessionID string, limit int) ([]TradeModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []TradeModel
	err := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("opened_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// OpenTrades returns the open rows for one pair across sessions.
func (l *Ledger) OpenTrades(ctx context.Context, pair string) ([]TradeModel, error) {
	var out []TradeModel
	err := l.db.WithContext(ctx).
		Where("pair = ? AND status = ?", pair, TradeStatusOpen).
		Order("opened_at ASC").
		Find(&out).Error
	return out, err
}

func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func tradeMetadata(reason string, signalLevel int) datatypes.JSON {
	raw, err := json.Marshal(map[string]any{
		"reason": reason,
		"level":  signalLevel,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
