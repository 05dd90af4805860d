package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"shelfkeeper/pkg/domain"
)

const migrateLockID int64 = 51477314

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&RecordModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// withMigrationLock serializes migrations across catalog replicas.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func (s *GormStore) List(ctx context.Context, resource string) ([]domain.Record, error) {
	var models []RecordModel
	if err := s.db.WithContext(ctx).
		Where("resource = ?", resource).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(models))
	for _, m := range models {
		rec, err := recordFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) Get(ctx context.Context, resource string, id int64) (domain.Record, error) {
	var model RecordModel
	if err := s.db.WithContext(ctx).First(&model, "resource = ? AND id = ?", resource, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return recordFromModel(model)
}

func (s *GormStore) Create(ctx context.Context, resource string, rec domain.Record) (domain.Record, error) {
	id, ok, err := recordID(rec)
	if err != nil {
		return nil, err
	}
	var out domain.Record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Concurrent creates on one resource must not pick the same id.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", resource).Error; err != nil {
			return err
		}
		if !ok {
			var highest int64
			if err := tx.Model(&RecordModel{}).
				Where("resource = ?", resource).
				Select("COALESCE(MAX(id), 0)").
				Row().Scan(&highest); err != nil {
				return err
			}
			id = highest + 1
		}
		stored := clone(rec)
		stored["id"] = id
		model, err := recordToModel(resource, id, stored)
		if err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		out = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Replace(ctx context.Context, resource string, id int64, rec domain.Record) (domain.Record, error) {
	stored := clone(rec)
	stored["id"] = id
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	res := s.db.WithContext(ctx).Model(&RecordModel{}).
		Where("resource = ? AND id = ?", resource, id).
		Updates(map[string]any{"data": datatypes.JSON(data), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return stored, nil
}

func (s *GormStore) Patch(ctx context.Context, resource string, id int64, fields domain.Record) (domain.Record, error) {
	var out domain.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model RecordModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "resource = ? AND id = ?", resource, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		current, err := recordFromModel(model)
		if err != nil {
			return err
		}
		for k, v := range fields {
			if k != "id" {
				current[k] = v
			}
		}
		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if err := tx.Model(&RecordModel{}).
			Where("resource = ? AND id = ?", resource, id).
			Updates(map[string]any{"data": datatypes.JSON(data), "updated_at": time.Now().UTC()}).Error; err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Delete(ctx context.Context, resource string, id int64) error {
	res := s.db.WithContext(ctx).Delete(&RecordModel{}, "resource = ? AND id = ?", resource, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordToModel(resource string, id int64, rec domain.Record) (RecordModel, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return RecordModel{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	now := time.Now().UTC()
	return RecordModel{
		Resource:  resource,
		ID:        id,
		Data:      datatypes.JSON(data),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func recordFromModel(m RecordModel) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(m.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s/%d: %w", m.Resource, m.ID, err)
	}
	if rec == nil {
		rec = domain.Record{}
	}
	rec["id"] = m.ID
	return rec, nil
}
