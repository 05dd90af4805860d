package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"shelfkeeper/pkg/domain"
)

func newMockGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:               gormlogger.Discard,
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return &GormStore{db: db}, mock
}

func TestGormCreateAssignsNextID(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("inventory").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(id\), 0\) FROM "record_models" WHERE resource = \$1`).
		WithArgs("inventory").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO "record_models" .* ON CONFLICT DO NOTHING`).
		WithArgs("inventory", int64(8), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := domain.Record{"storeId": 5, "bookId": 42, "price": 19.99}
	got, err := s.Create(context.Background(), "inventory", rec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got["id"] != int64(8) || got["bookId"] != 42 {
		t.Fatalf("unexpected record %v", got)
	}
	if _, ok := rec["id"]; ok {
		t.Fatalf("input record must not be modified")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGormCreateExistingIDConflicts(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs("books").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "record_models" .* ON CONFLICT DO NOTHING`).
		WithArgs("books", int64(3), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), "books", domain.Record{"id": 3, "name": "Dune"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("create = %v, want conflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGormCreateRejectsBadID(t *testing.T) {
	s, mock := newMockGormStore(t)
	_, err := s.Create(context.Background(), "books", domain.Record{"id": -2})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("create = %v, want invalid", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statements expected: %v", err)
	}
}
