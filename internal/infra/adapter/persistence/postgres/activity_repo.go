package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/repository"
)

type ActivityRepo struct{ db *sql.DB }

func NewActivityRepo(db *sql.DB) repository.ActivityRepository {
	return &ActivityRepo{db: db}
}

func (repo *ActivityRepo) Log(ctx context.Context, entry *entity.ActivityEntry) error {
	const query = `
INSERT INTO activity_log (source_id, action, details, created_at)
VALUES ($1, $2, $3, $4)`

	var details []byte
	if entry.Details != nil {
		var err error
		details, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("Log: marshal details: %w", err)
		}
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var sourceID any
	if entry.SourceID != "" {
		sourceID = entry.SourceID
	}
	if _, err := repo.db.ExecContext(ctx, query, sourceID, string(entry.Action), details, createdAt); err != nil {
		return fmt.Errorf("Log: %w", err)
	}
	return nil
}
