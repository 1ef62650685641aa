package storage

import (
	"context"
	"errors"
	"fmt"

	"client/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepo archives finished games with their final scores.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(ctx context.Context, connString string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

// RecordGameResult stores result once. Recording the same game again is a
// no-op.
func (r *PostgresRepo) RecordGameResult(ctx context.Context, result domain.GameResult) error {
	if result.GameID == "" {
		return fmt.Errorf("%w: game id is required", domain.ErrInvalidData)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapDBError(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO game_results(game_id, room_id, ended_at) VALUES($1, $2, $3) ON CONFLICT (game_id) DO NOTHING`,
		result.GameID, result.RoomID, result.EndedAt)
	if err != nil {
		return wrapDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	winners := make(map[string]bool, len(result.Winners))
	for _, w := range result.Winners {
		winners[w.UserID] = true
	}

	batch := &pgx.Batch{}
	for _, s := range result.Scores {
		username := ""
		if s.User != nil {
			username = s.User.Username
		}
		batch.Queue(
			`INSERT INTO game_scores(game_id, user_id, username, score, correct, is_winner) VALUES($1, $2, $3, $4, $5, $6)`,
			result.GameID, s.UserID, username, s.Score, s.Correct, winners[s.UserID])
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapDBError(err)
	}
	return nil
}

// GameResult loads an archived game. Scores come back highest first.
func (r *PostgresRepo) GameResult(ctx context.Context, gameID string) (domain.GameResult, error) {
	result := domain.GameResult{GameID: gameID}

	row := r.pool.QueryRow(ctx, "SELECT room_id, ended_at FROM game_results WHERE game_id = $1", gameID)
	if err := row.Scan(&result.RoomID, &result.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GameResult{}, domain.ErrResultNotFound
		}
		return domain.GameResult{}, wrapDBError(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT user_id, username, score, correct, is_winner FROM game_scores WHERE game_id = $1 ORDER BY score DESC, user_id`,
		gameID)
	if err != nil {
		return domain.GameResult{}, wrapDBError(err)
	}
	defer rows.Close()

	result.Scores = []domain.Score{}
	result.Winners = []domain.Score{}
	for rows.Next() {
		var (
			s        domain.Score
			username string
			winner   bool
		)
		if err := rows.Scan(&s.UserID, &username, &s.Score, &s.Correct, &winner); err != nil {
			return domain.GameResult{}, wrapDBError(err)
		}
		s.GameID = gameID
		if username != "" {
			s.User = &domain.ScoreUser{ID: s.UserID, Username: username}
		}
		result.Scores = append(result.Scores, s)
		if winner {
			result.Winners = append(result.Winners, s)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.GameResult{}, wrapDBError(err)
	}
	return result, nil
}

func wrapDBError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, err)
}
