package database

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/ksred/klear-paper/pkg/response"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SnapshotRecord is a persisted account snapshot. Totals are kept in
// columns for querying and the full snapshot as a JSON payload.
type SnapshotRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	TakenAt          time.Time `gorm:"index" json:"taken_at"`
	Currency         string    `json:"currency"`
	TotalValue       float64   `json:"total_value"`
	TotalRealizedPnL float64   `json:"total_realized_pnl"`
	OpenOrders       int       `json:"open_orders"`
	Payload          string    `gorm:"type:text" json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// Database stores account snapshots in sqlite
type Database struct {
	db *gorm.DB
}

// NewDatabase opens the sqlite file at path and migrates the schema
func NewDatabase(path string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Database{db: db}, nil
}

// SaveSnapshot persists snap and returns the stored record
func (d *Database) SaveSnapshot(snap *types.AccountSnapshot) (*SnapshotRecord, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	record := &SnapshotRecord{
		TakenAt:          snap.Timestamp,
		Currency:         snap.Currency,
		TotalValue:       snap.TotalValueInDisplayCurrency,
		TotalRealizedPnL: snap.TotalRealizedPnL,
		OpenOrders:       len(snap.OpenOrders),
		Payload:          string(payload),
	}
	if err := d.db.Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// LatestSnapshot returns the most recently taken snapshot
func (d *Database) LatestSnapshot() (*types.AccountSnapshot, error) {
	var record SnapshotRecord
	if err := d.db.Order("taken_at desc, id desc").First(&record).Error; err != nil {
		return nil, err
	}

	var snap types.AccountSnapshot
	if err := json.Unmarshal([]byte(record.Payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %d: %w", record.ID, err)
	}
	return &snap, nil
}

// ListSnapshots returns up to limit records, newest first
func (d *Database) ListSnapshots(limit int) ([]SnapshotRecord, error) {
	var records []SnapshotRecord
	q := d.db.Order("taken_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// PruneBefore deletes snapshots taken before cutoff
func (d *Database) PruneBefore(cutoff time.Time) (int64, error) {
	result := d.db.Where("taken_at < ?", cutoff).Delete(&SnapshotRecord{})
	return result.RowsAffected, result.Error
}

// Close releases the underlying connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type GinHandlers struct {
	db *Database
}

func NewGinHandlers(db *Database) *GinHandlers {
	return &GinHandlers{db: db}
}

// LatestSnapshotHandler returns 404 until the first snapshot is taken
func (h *GinHandlers) LatestSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := h.db.LatestSnapshot()
		response.Handle(c, snap, err)
	}
}

// ListSnapshotsHandler handles GET /snapshots?limit=N, newest first
func (h *GinHandlers) ListSnapshotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				response.BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = n
		}

		records, err := h.db.ListSnapshots(limit)
		response.Handle(c, records, err)
	}
}
