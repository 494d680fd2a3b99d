package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openMockRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return NewWithoutMigrate(db), mock
}

func TestClaimAlertWindowIsSingleConditionalUpdate(t *testing.T) {
	repo, mock := openMockRepo(t)
	id := uuid.New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE "alerts" SET "last_sent"=\$1,"updated_at"=\$2 WHERE .*id = \$3 AND sensor_code = \$4 AND active = \$5 AND \(last_sent IS NULL OR last_sent < \$6\)`).
		WithArgs(now, now, id, "PI", true, now.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := repo.ClaimAlertWindow(context.Background(), id.String(), "PI", now.Add(-time.Hour), now)
	if err != nil || !won {
		t.Fatalf("expected claim to win, got won=%v err=%v", won, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimAlertWindowLosesWhenNoRowMatches(t *testing.T) {
	repo, mock := openMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE "alerts" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.ClaimAlertWindow(context.Background(), uuid.NewString(), "PI", now.Add(-time.Hour), now)
	if err != nil || won {
		t.Fatalf("expected claim to lose, got won=%v err=%v", won, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimAlertWindowSurfacesStoreErrors(t *testing.T) {
	repo, mock := openMockRepo(t)
	now := time.Now().UTC()

	errLocked := errors.New("could not serialize access")
	mock.ExpectExec(`UPDATE "alerts" SET`).WillReturnError(errLocked)

	won, err := repo.ClaimAlertWindow(context.Background(), uuid.NewString(), "PI", now.Add(-time.Hour), now)
	if !errors.Is(err, errLocked) || won {
		t.Fatalf("expected store error, got won=%v err=%v", won, err)
	}
}
