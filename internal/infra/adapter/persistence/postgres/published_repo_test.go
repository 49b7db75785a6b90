package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/infra/adapter/persistence/postgres"
)

func publishedRow(row *entity.PublishedPost) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"source_id", "post_id", "post_url",
		"target_status_id", "platform_uri", "published_at",
	}).AddRow(
		row.SourceID, row.PostID, row.PostURL,
		row.TargetStatusID, row.PlatformURI, row.PublishedAt,
	)
}

func TestPublishedRepo_Published(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("foo", "42").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	repo := postgres.NewPublishedRepo(db)
	got, err := repo.Published(context.Background(), "foo", "42")
	if err != nil {
		t.Fatalf("Published err=%v", err)
	}
	if !got {
		t.Fatal("Published = false, want true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublishedRepo_MarkPublished_IsIdempotent(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	row := &entity.PublishedPost{
		SourceID:       "foo",
		PostID:         "42",
		PostURL:        "https://twitter.com/foo/status/42",
		TargetStatusID: "109",
		PublishedAt:    time.Now(),
	}

	// Second insert hits the ON CONFLICT clause: zero rows affected, no error.
	mock.ExpectExec(`INSERT INTO published_posts`).
		WithArgs(row.SourceID, row.PostID, row.PostURL, row.TargetStatusID, row.PlatformURI, row.PublishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO published_posts`).
		WithArgs(row.SourceID, row.PostID, row.PostURL, row.TargetStatusID, row.PlatformURI, row.PublishedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := postgres.NewPublishedRepo(db)
	if err := repo.MarkPublished(context.Background(), row); err != nil {
		t.Fatalf("first MarkPublished err=%v", err)
	}
	if err := repo.MarkPublished(context.Background(), row); err != nil {
		t.Fatalf("second MarkPublished err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublishedRepo_FindByPlatformURI(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	want := &entity.PublishedPost{
		SourceID:       "bsky-news",
		PostID:         "3k2aaaaaaaa2b",
		PostURL:        "https://bsky.app/profile/news.example/post/3k2aaaaaaaa2b",
		TargetStatusID: "110",
		PlatformURI:    "at://did:plc:abc/app.bsky.feed.post/3k2aaaaaaaa2b",
		PublishedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery(`FROM published_posts`).
		WithArgs(want.SourceID, want.PlatformURI).
		WillReturnRows(publishedRow(want))

	repo := postgres.NewPublishedRepo(db)
	got, err := repo.FindByPlatformURI(context.Background(), want.SourceID, want.PlatformURI)
	if err != nil {
		t.Fatalf("FindByPlatformURI err=%v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublishedRepo_FindByPostID_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM published_posts`).
		WithArgs("foo", "999").
		WillReturnRows(sqlmock.NewRows([]string{
			"source_id", "post_id", "post_url",
			"target_status_id", "platform_uri", "published_at",
		}))

	repo := postgres.NewPublishedRepo(db)
	got, err := repo.FindByPostID(context.Background(), "foo", "999")
	if err != nil {
		t.Fatalf("FindByPostID err=%v", err)
	}
	if got != nil {
		t.Fatalf("FindByPostID = %+v, want nil", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublishedRepo_Published_ConnectionError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	connErr := errors.New("connection refused")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("foo", "42").
		WillReturnError(connErr)

	repo := postgres.NewPublishedRepo(db)
	_, err := repo.Published(context.Background(), "foo", "42")
	if !errors.Is(err, connErr) {
		t.Fatalf("Published err=%v, want wrapped %v", err, connErr)
	}
}
