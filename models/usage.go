package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/shopspring/decimal"
)

// UsageRecord is one ledger entry per ingredient per production event,
// written separately for productive use and for wastage.
type UsageRecord struct {
	ID           int             `gorm:"primary_key" json:"id"`
	ProductionId int             `gorm:"index;not null" json:"production_id"`
	IngredientId int             `gorm:"index;not null" json:"ingredient_id"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Reason       UsageReason     `gorm:"size:50;not null" json:"reason"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// BatchUsage records how much of a UsageRecord's quantity was drawn from one
// batch. For any usage record, sum(qty_used) over its batch usages equals the
// record's qty exactly; the rows prove the FIFO order that was followed.
type BatchUsage struct {
	ID            int             `gorm:"primary_key" json:"id"`
	UsageRecordId int             `gorm:"index;not null" json:"usage_record_id"`
	BatchId       int             `gorm:"index;not null" json:"batch_id"`
	QtyUsed       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_used"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// ListUsageRecordsForProduction returns the usage ledger of one production
// event with its batch allocations preloaded per record.
func ListUsageRecordsForProduction(ctx context.Context, productionId int) ([]*UsageRecord, map[int][]*BatchUsage, error) {

	db := config.GetDB()
	var records []*UsageRecord
	err := db.WithContext(ctx).
		Where("production_id = ?", productionId).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, nil, err
	}

	recordIds := make([]int, 0, len(records))
	for _, r := range records {
		recordIds = append(recordIds, r.ID)
	}
	allocations := make(map[int][]*BatchUsage, len(records))
	if len(recordIds) > 0 {
		var batchUsages []*BatchUsage
		err = db.WithContext(ctx).
			Where("usage_record_id IN ?", recordIds).
			Order("id ASC").
			Find(&batchUsages).Error
		if err != nil {
			return nil, nil, err
		}
		for _, bu := range batchUsages {
			allocations[bu.UsageRecordId] = append(allocations[bu.UsageRecordId], bu)
		}
	}
	return records, allocations, nil
}
