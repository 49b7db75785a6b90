package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"mirrorpost/internal/infra/adapter/persistence/postgres"
)

func TestSourceStateRepo_Get_CreatesRowOnFirstUse(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`INSERT INTO source_states`).
		WithArgs("foo").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM source_states`).
		WithArgs("foo").
		WillReturnRows(sqlmock.NewRows([]string{
			"source_id", "last_check", "last_success", "posts_today",
			"last_reset", "error_count", "last_error", "disabled_at",
		}).AddRow("foo", nil, nil, 0, nil, 0, nil, nil))

	repo := postgres.NewSourceStateRepo(db)
	st, err := repo.Get(context.Background(), "foo")
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if st.SourceID != "foo" || st.LastCheck != nil || st.ErrorCount != 0 {
		t.Fatalf("unexpected state %+v", st)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceStateRepo_MarkCheckError_IncrementsCount(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`error_count = source_states.error_count \+ 1`).
		WithArgs("foo", sqlmock.AnyArg(), "timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := postgres.NewSourceStateRepo(db)
	if err := repo.MarkCheckError(context.Background(), "foo", "timeout"); err != nil {
		t.Fatalf("MarkCheckError err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceStateRepo_MarkCheckSuccess(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`INSERT INTO source_states`).
		WithArgs("foo", sqlmock.AnyArg(), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := postgres.NewSourceStateRepo(db)
	if err := repo.MarkCheckSuccess(context.Background(), "foo", 2); err != nil {
		t.Fatalf("MarkCheckSuccess err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceStateRepo_DueForCheck_SkipsDisabled(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	lastCheck := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`disabled_at IS NULL`).
		WithArgs(sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"source_id", "last_check", "last_success", "posts_today",
			"last_reset", "error_count", "last_error", "disabled_at",
		}).AddRow("stale", lastCheck, lastCheck, 3, lastCheck, 0, "", nil))

	repo := postgres.NewSourceStateRepo(db)
	due, err := repo.DueForCheck(context.Background(), 20*time.Minute, 10)
	if err != nil {
		t.Fatalf("DueForCheck err=%v", err)
	}
	if len(due) != 1 || due[0].SourceID != "stale" {
		t.Fatalf("unexpected due set %+v", due)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
