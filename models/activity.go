package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/mmdatafocus/bakery_backend/utils"
	"gorm.io/gorm"
)

// Activity is the append-only audit log. Rows are never updated or deleted.
type Activity struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ActionType    string    `gorm:"size:20;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:100;index" json:"reference_type"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CreateActivity writes one audit row inside the caller's transaction.
// The actor is taken from the transaction's context, so every mutation path
// must run with user id/name set (the identity middleware does this for HTTP).
func CreateActivity(tx *gorm.DB,
	actionType string,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) (err error) {

	var activity Activity

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	ctx := tx.Statement.Context
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return errors.New("user id is required")
	}
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok {
		return errors.New("user name is required")
	}

	activity.ActionType = actionType
	activity.Before = string(b)
	activity.After = string(a)
	activity.Description = description
	activity.ReferenceID = referenceId
	activity.ReferenceType = referenceType
	activity.UserId = userId
	activity.UserName = userName

	err = tx.Create(&activity).Error
	return err
}

type ActivityFilter struct {
	ReferenceType string
	ReferenceId   int
	FromDate      *time.Time
	ToDate        *time.Time
	Limit         int
	Offset        int
}

// ListActivities returns a page of audit rows, newest first, plus the total count.
func ListActivities(ctx context.Context, filter ActivityFilter) ([]*Activity, int64, error) {

	db := config.GetDB()
	limit, offset := NormalizeListParams(filter.Limit, filter.Offset)

	query := db.WithContext(ctx).Model(&Activity{})
	if filter.ReferenceType != "" {
		query = query.Where("reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceId > 0 {
		query = query.Where("reference_id = ?", filter.ReferenceId)
	}
	if filter.FromDate != nil {
		query = query.Where("created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("created_at <= ?", *filter.ToDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var activities []*Activity
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&activities).Error
	if err != nil {
		return nil, 0, err
	}
	return activities, total, nil
}
