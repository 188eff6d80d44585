package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"yqhp/orchestration-engine/pkg/types"
	"yqhp/orchestration-engine/pkg/utils"
)

// ModelRecord is the persisted form of a FunctionModel. The graph itself is
// kept as a JSON document.
type ModelRecord struct {
	ID        string         `gorm:"column:id;type:varchar(128);primaryKey"`
	Name      string         `gorm:"column:name;type:varchar(255)"`
	Version   string         `gorm:"column:version;type:varchar(64)"`
	Status    string         `gorm:"column:status;type:varchar(32);index"`
	Owner     string         `gorm:"column:owner;type:varchar(128);index"`
	Document  datatypes.JSON `gorm:"column:document"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 表名
func (ModelRecord) TableName() string { return "fo_function_models" }

// ExecutionRecord is the persisted form of an Execution.
type ExecutionRecord struct {
	ID             string         `gorm:"column:id;type:varchar(64);primaryKey"`
	ModelID        string         `gorm:"column:model_id;type:varchar(128);index"`
	UserID         string         `gorm:"column:user_id;type:varchar(128);index"`
	Environment    string         `gorm:"column:environment;type:varchar(64)"`
	Status         string         `gorm:"column:status;type:varchar(32);index"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	StartedAt      *time.Time     `gorm:"column:started_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at"`
	CompletedNodes datatypes.JSON `gorm:"column:completed_nodes"`
	FailedNodes    datatypes.JSON `gorm:"column:failed_nodes"`
	SkippedNodes   datatypes.JSON `gorm:"column:skipped_nodes"`
	Errors         datatypes.JSON `gorm:"column:errors"`
	Outputs        datatypes.JSON `gorm:"column:outputs"`
}

// TableName 表名
func (ExecutionRecord) TableName() string { return "fo_executions" }

// AuditRecord is one audit trail row.
type AuditRecord struct {
	Seq         uint64         `gorm:"column:seq;primaryKey;autoIncrement"`
	ID          string         `gorm:"column:id;type:varchar(64);uniqueIndex"`
	EntityType  string         `gorm:"column:entity_type;type:varchar(64)"`
	EntityID    string         `gorm:"column:entity_id;type:varchar(255);index"`
	Operation   string         `gorm:"column:operation;type:varchar(32)"`
	UserID      string         `gorm:"column:user_id;type:varchar(128)"`
	Timestamp   time.Time      `gorm:"column:timestamp;index"`
	EventType   string         `gorm:"column:event_type;type:varchar(64)"`
	EventData   datatypes.JSON `gorm:"column:event_data"`
	ExecutionID string         `gorm:"column:execution_id;type:varchar(64);index"`
	ModelID     string         `gorm:"column:model_id;type:varchar(128)"`
}

// TableName 表名
func (AuditRecord) TableName() string { return "fo_audit_log" }

// GormStore is a Repository backed by a SQL database.
type GormStore struct {
	db *gorm.DB
}

// Options configures OpenGorm.
type Options struct {
	Driver       string // sqlite, mysql, postgres
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
	AutoMigrate  bool
}

// OpenGorm 初始化数据库连接
func OpenGorm(opts Options) (*GormStore, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "sqlite":
		dialector = sqlite.Open(opts.DSN)
	case "mysql":
		dialector = mysql.Open(opts.DSN)
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newQueryLogger()})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 设置连接池参数
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := NewGormStore(db)
	if opts.AutoMigrate {
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewGormStore wraps an open connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the tables.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&ModelRecord{}, &ExecutionRecord{}, &AuditRecord{})
}

// DB returns the underlying connection.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// LoadModel implements ModelRepository.
func (s *GormStore) LoadModel(ctx context.Context, modelID string) (*types.FunctionModel, error) {
	var rec ModelRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", modelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("model", modelID)
		}
		return nil, err
	}
	return utils.FromJSONBytes[*types.FunctionModel](rec.Document)
}

// SaveModel implements ModelRepository.
func (s *GormStore) SaveModel(ctx context.Context, model *types.FunctionModel) error {
	doc, err := utils.Marshal(model)
	if err != nil {
		return err
	}
	rec := ModelRecord{
		ID:       model.ID,
		Name:     model.Name,
		Version:  model.Version,
		Status:   string(model.Status),
		Owner:    model.Permissions.Owner,
		Document: datatypes.JSON(doc),
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// ListModels implements ModelRepository.
func (s *GormStore) ListModels(ctx context.Context) ([]*types.FunctionModel, error) {
	var recs []ModelRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*types.FunctionModel, 0, len(recs))
	for _, rec := range recs {
		m, err := utils.FromJSONBytes[*types.FunctionModel](rec.Document)
		if err != nil {
			return nil, fmt.Errorf("decode model %s: %w", rec.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// SaveExecutionResult implements ExecutionRepository.
func (s *GormStore) SaveExecutionResult(ctx context.Context, execution *types.Execution) error {
	rec := ExecutionRecord{
		ID:          execution.ID,
		ModelID:     execution.ModelID,
		UserID:      execution.UserID,
		Environment: execution.Environment,
		Status:      string(execution.Status),
		CreatedAt:   execution.CreatedAt,
		StartedAt:   execution.StartedAt,
		CompletedAt: execution.CompletedAt,
	}
	var err error
	if rec.CompletedNodes, err = jsonColumn(execution.CompletedNodes); err != nil {
		return err
	}
	if rec.FailedNodes, err = jsonColumn(execution.FailedNodes); err != nil {
		return err
	}
	if rec.SkippedNodes, err = jsonColumn(execution.SkippedNodes); err != nil {
		return err
	}
	if rec.Errors, err = jsonColumn(execution.Errors); err != nil {
		return err
	}
	if rec.Outputs, err = jsonColumn(execution.Outputs); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// GetExecution implements ExecutionRepository.
func (s *GormStore) GetExecution(ctx context.Context, executionID string) (*types.Execution, error) {
	var rec ExecutionRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", executionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("execution", executionID)
		}
		return nil, err
	}
	e := &types.Execution{
		ID:          rec.ID,
		ModelID:     rec.ModelID,
		UserID:      rec.UserID,
		Environment: rec.Environment,
		Status:      types.ExecutionStatus(rec.Status),
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	for _, col := range []struct {
		data datatypes.JSON
		dst  any
	}{
		{rec.CompletedNodes, &e.CompletedNodes},
		{rec.FailedNodes, &e.FailedNodes},
		{rec.SkippedNodes, &e.SkippedNodes},
		{rec.Errors, &e.Errors},
		{rec.Outputs, &e.Outputs},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := utils.Unmarshal(col.data, col.dst); err != nil {
			return nil, fmt.Errorf("decode execution %s: %w", rec.ID, err)
		}
	}
	return e, nil
}

// AppendAuditEntry implements AuditRepository. Duplicate ids are ignored.
func (s *GormStore) AppendAuditEntry(ctx context.Context, entry *types.AuditLogEntry) error {
	data, err := jsonColumn(entry.EventData)
	if err != nil {
		return err
	}
	rec := AuditRecord{
		ID:          entry.ID,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Operation:   entry.Operation,
		UserID:      entry.UserID,
		Timestamp:   entry.Timestamp,
		EventType:   entry.EventType,
		EventData:   data,
		ExecutionID: entry.ExecutionID,
		ModelID:     entry.ModelID,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&rec).Error
}

// ListAuditEntries implements AuditRepository in append order.
func (s *GormStore) ListAuditEntries(ctx context.Context, executionID string) ([]*types.AuditLogEntry, error) {
	q := s.db.WithContext(ctx).Order("seq")
	if executionID != "" {
		q = q.Where("execution_id = ?", executionID)
	}
	var recs []AuditRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*types.AuditLogEntry, 0, len(recs))
	for _, rec := range recs {
		entry := &types.AuditLogEntry{
			ID:          rec.ID,
			EntityType:  rec.EntityType,
			EntityID:    rec.EntityID,
			Operation:   rec.Operation,
			UserID:      rec.UserID,
			Timestamp:   rec.Timestamp,
			EventType:   rec.EventType,
			ExecutionID: rec.ExecutionID,
			ModelID:     rec.ModelID,
		}
		if len(rec.EventData) > 0 {
			if err := utils.Unmarshal(rec.EventData, &entry.EventData); err != nil {
				return nil, fmt.Errorf("decode audit entry %s: %w", rec.ID, err)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func jsonColumn(v any) (datatypes.JSON, error) {
	data, err := utils.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}
