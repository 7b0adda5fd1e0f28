package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// taskRecord 任务状态表。
type taskRecord struct {
	ID              string     `gorm:"primaryKey;size:26"`
	Kind            string     `gorm:"size:32;index"`
	State           string     `gorm:"size:16;index"`
	Progress        int        `gorm:"not null;default:0"`
	Message         string     `gorm:"size:512"`
	Result          string     `gorm:"type:text"`
	Error           string     `gorm:"type:text"`
	CancelRequested bool       `gorm:"not null;default:false"`
	ExpiresAt       *time.Time `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (taskRecord) TableName() string { return "rag_tasks" }

// SQLBackend 基于 gorm 的状态存储，支持 sqlite、mysql、postgres。
//
// Update 在事务内以 SELECT ... FOR UPDATE 读取记录（sqlite 忽略行锁，
// 依赖数据库级写锁）。终态记录写入过期时间，读取时清除已过期的记录。
type SQLBackend struct {
	db     *gorm.DB
	expiry time.Duration
}

var _ StateBackend = (*SQLBackend)(nil)

// NewSQLBackend 创建 SQL 状态存储并迁移表结构。
func NewSQLBackend(ctx context.Context, db *gorm.DB, expiry time.Duration) (*SQLBackend, error) {
	if err := db.WithContext(ctx).AutoMigrate(&taskRecord{}); err != nil {
		return nil, fmt.Errorf("migrate task table: %w", err)
	}
	return &SQLBackend{db: db, expiry: expiry}, nil
}

func (b *SQLBackend) Name() string { return "sql" }

func (b *SQLBackend) Create(ctx context.Context, st *TaskStatus) error {
	rec, err := b.toRecord(st)
	if err != nil {
		return err
	}
	return b.db.WithContext(ctx).Create(rec).Error
}

func (b *SQLBackend) Get(ctx context.Context, id string) (*TaskStatus, error) {
	b.purgeExpired(ctx)

	var rec taskRecord
	err := b.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

func (b *SQLBackend) Update(ctx context.Context, id string, fn UpdateFunc) (*TaskStatus, error) {
	var out *TaskStatus
	var fnErr error

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec taskRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}

		cur, err := fromRecord(&rec)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			out, fnErr = cur, err
			return nil
		}
		next.UpdatedAt = time.Now()

		updated, err := b.toRecord(next)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, fnErr
}

func (b *SQLBackend) Close() error { return nil }

func (b *SQLBackend) purgeExpired(ctx context.Context) {
	if b.expiry <= 0 {
		return
	}
	b.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at < ?", time.Now().UTC()).Delete(&taskRecord{})
}

func (b *SQLBackend) toRecord(st *TaskStatus) (*taskRecord, error) {
	rec := &taskRecord{
		ID:              st.ID,
		Kind:            string(st.Kind),
		State:           string(st.State),
		Progress:        st.Progress,
		Message:         st.Message,
		Error:           st.Error,
		CancelRequested: st.CancelRequested,
		CreatedAt:       st.CreatedAt,
		UpdatedAt:       st.UpdatedAt,
	}
	if st.Result != nil {
		data, err := json.MarshalString(st.Result)
		if err != nil {
			return nil, fmt.Errorf("encode task %s result: %w", st.ID, err)
		}
		rec.Result = data
	}
	if b.expiry > 0 && st.State.Terminal() {
		exp := st.UpdatedAt.Add(b.expiry).UTC()
		rec.ExpiresAt = &exp
	}
	return rec, nil
}

func fromRecord(rec *taskRecord) (*TaskStatus, error) {
	st := &TaskStatus{
		ID:              rec.ID,
		Kind:            Kind(rec.Kind),
		State:           State(rec.State),
		Progress:        rec.Progress,
		Message:         rec.Message,
		Error:           rec.Error,
		CancelRequested: rec.CancelRequested,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if rec.Result != "" {
		var res Result
		if err := json.UnmarshalString(rec.Result, &res); err != nil {
			return nil, fmt.Errorf("decode task %s result: %w", rec.ID, err)
		}
		st.Result = &res
	}
	return st, nil
}
