package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/merchantfeed/internal/model"
)

// PostgresScheduleRepo はPostgreSQLを使用したスケジュール状態リポジトリ。
// feed_scheduleテーブルは単一行（id = 1）で運用する。
type PostgresScheduleRepo struct {
	db *sql.DB
}

// NewPostgresScheduleRepo はPostgresScheduleRepoを生成する。
func NewPostgresScheduleRepo(db *sql.DB) *PostgresScheduleRepo {
	return &PostgresScheduleRepo{db: db}
}

// Get はスケジュール状態を取得する。
func (r *PostgresScheduleRepo) Get(ctx context.Context) (*model.ScheduleState, error) {
	state := &model.ScheduleState{}
	var lastSuccessAt, lastFailureAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, frequency, next_run_at, last_success_at, last_failure_at,
		        consecutive_failures, last_error, updated_at
		 FROM feed_schedule WHERE id = 1`,
	).Scan(
		&state.ID, &state.Frequency, &state.NextRunAt,
		&lastSuccessAt, &lastFailureAt,
		&state.ConsecutiveFailures, &state.LastError, &state.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, model.ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("スケジュール状態の取得に失敗しました: %w", err)
	}

	if lastSuccessAt.Valid {
		state.LastSuccessAt = &lastSuccessAt.Time
	}
	if lastFailureAt.Valid {
		state.LastFailureAt = &lastFailureAt.Time
	}

	return state, nil
}

// Update はスケジュール状態を保存する。
func (r *PostgresScheduleRepo) Update(ctx context.Context, state *model.ScheduleState) error {
	var lastSuccessAt, lastFailureAt sql.NullTime
	if state.LastSuccessAt != nil {
		lastSuccessAt = sql.NullTime{Time: *state.LastSuccessAt, Valid: true}
	}
	if state.LastFailureAt != nil {
		lastFailureAt = sql.NullTime{Time: *state.LastFailureAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE feed_schedule SET
		    frequency = $1,
		    next_run_at = $2,
		    last_success_at = $3,
		    last_failure_at = $4,
		    consecutive_failures = $5,
		    last_error = $6,
		    updated_at = now()
		 WHERE id = 1`,
		state.Frequency, state.NextRunAt,
		lastSuccessAt, lastFailureAt,
		state.ConsecutiveFailures, state.LastError,
	)
	if err != nil {
		return fmt.Errorf("スケジュール状態の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ScheduleRepository = (*PostgresScheduleRepo)(nil)
