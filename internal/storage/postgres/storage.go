package postgres

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/storage"
)

//go:embed schema.sql
var schema string

const codeForeignKeyViolation = "23503"

// Storage implements storage.Store on top of Postgres. Row updates take a
// SELECT ... FOR UPDATE lock inside a transaction so concurrent writers on
// the same duel or stats row are serialised by the database.
type Storage struct {
	db *pgxpool.Pool
}

var _ storage.Store = (*Storage)(nil)

func New(db *pgxpool.Pool) *Storage {
	return &Storage{db: db}
}

// Migrate creates the tables when they don't exist yet.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Storage) CreatePlayer(ctx context.Context, p *domain.Player) error {
	const stmt = `
INSERT INTO players (id, username, device_id, photo_url, fcm_token, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt, p.ID, p.Username, p.DeviceID, p.PhotoURL, p.FCMToken, p.CreateTime)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	const stmt = `
SELECT id, username, device_id, photo_url, fcm_token, created_at
FROM players
WHERE id = $1;`

	var p domain.Player
	err := s.db.QueryRow(ctx, stmt, id).Scan(&p.ID, &p.Username, &p.DeviceID, &p.PhotoURL, &p.FCMToken, &p.CreateTime)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Storage) ListPlayers(ctx context.Context) ([]domain.PlayerWithStats, error) {
	const stmt = `
SELECT p.id, p.username, p.device_id, p.photo_url, p.fcm_token, p.created_at,
	COALESCE(s.games_played, 0), COALESCE(s.high_score, 0), COALESCE(s.total_score, 0),
	COALESCE(s.total_lines_cleared, 0), COALESCE(s.total_play_time_seconds, 0), COALESCE(s.best_combo, 0)
FROM players p
LEFT JOIN player_stats s ON s.player_id = p.id
ORDER BY p.created_at DESC;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.PlayerWithStats, error) {
		var p domain.PlayerWithStats
		err := r.Scan(&p.ID, &p.Username, &p.DeviceID, &p.PhotoURL, &p.FCMToken, &p.CreateTime,
			&p.Stats.GamesPlayed, &p.Stats.HighScore, &p.Stats.TotalScore,
			&p.Stats.TotalLinesCleared, &p.Stats.TotalPlayTimeSeconds, &p.Stats.BestCombo)
		p.Stats.PlayerID = p.ID
		return p, err
	})
}

func (s *Storage) DeletePlayer(ctx context.Context, id string) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM player_stats WHERE player_id = $1;`, id); err != nil {
		return fmt.Errorf("delete stats: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM players WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	return tx.Commit(ctx)
}

const selectStats = `
SELECT player_id, games_played, high_score, total_score, total_lines_cleared, total_play_time_seconds, best_combo
FROM player_stats
WHERE player_id = $1`

func scanStats(row pgx.Row) (*domain.PlayerStats, error) {
	var st domain.PlayerStats
	err := row.Scan(&st.PlayerID, &st.GamesPlayed, &st.HighScore, &st.TotalScore,
		&st.TotalLinesCleared, &st.TotalPlayTimeSeconds, &st.BestCombo)
	if err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *Storage) GetStats(ctx context.Context, playerID string) (*domain.PlayerStats, error) {
	return scanStats(s.db.QueryRow(ctx, selectStats+";", playerID))
}

func (s *Storage) UpdateStats(ctx context.Context, playerID string, fn func(s *domain.PlayerStats) error) (_ *domain.PlayerStats, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	_, err = tx.Exec(ctx, `INSERT INTO player_stats (player_id) VALUES ($1) ON CONFLICT (player_id) DO NOTHING;`, playerID)
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ensure stats: %w", err)
	}

	st, err := scanStats(tx.QueryRow(ctx, selectStats+" FOR UPDATE;", playerID))
	if err != nil {
		return nil, err
	}

	if err = fn(st); err != nil {
		return nil, err
	}

	const stmt = `
UPDATE player_stats
SET games_played = $2, high_score = $3, total_score = $4, total_lines_cleared = $5,
	total_play_time_seconds = $6, best_combo = $7
WHERE player_id = $1;`

	_, err = tx.Exec(ctx, stmt, playerID, st.GamesPlayed, st.HighScore, st.TotalScore,
		st.TotalLinesCleared, st.TotalPlayTimeSeconds, st.BestCombo)
	if err != nil {
		return nil, fmt.Errorf("update stats: %w", err)
	}

	return st, tx.Commit(ctx)
}

func (s *Storage) CreateDuel(ctx context.Context, d *domain.Duel) error {
	const stmt = `
INSERT INTO duels (id, challenger_id, challenged_id, seed, status, challenger_score, challenged_score, winner_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	_, err := s.db.Exec(ctx, stmt, d.ID, d.ChallengerID, d.ChallengedID, d.Seed, string(d.Status),
		d.ChallengerScore, d.ChallengedScore, d.WinnerID, d.CreateTime)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert duel: %w", err)
	}
	return nil
}

const selectDuel = `
SELECT id, challenger_id, challenged_id, seed, status, challenger_score, challenged_score, winner_id, created_at
FROM duels`

func scanDuel(row pgx.Row) (domain.Duel, error) {
	var (
		d      domain.Duel
		status string
	)
	err := row.Scan(&d.ID, &d.ChallengerID, &d.ChallengedID, &d.Seed, &status,
		&d.ChallengerScore, &d.ChallengedScore, &d.WinnerID, &d.CreateTime)
	d.Status = domain.DuelStatus(status)
	return d, err
}

func (s *Storage) GetDuel(ctx context.Context, id string) (*domain.Duel, error) {
	d, err := scanDuel(s.db.QueryRow(ctx, selectDuel+" WHERE id = $1;", id))
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *Storage) UpdateDuel(ctx context.Context, id string, fn func(d *domain.Duel) error) (_ *domain.Duel, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	d, err := scanDuel(tx.QueryRow(ctx, selectDuel+" WHERE id = $1 FOR UPDATE;", id))
	if err != nil {
		return nil, notFound(err)
	}

	if err = fn(&d); err != nil {
		return nil, err
	}

	const stmt = `
UPDATE duels
SET status = $2, challenger_score = $3, challenged_score = $4, winner_id = $5
WHERE id = $1;`

	if _, err = tx.Exec(ctx, stmt, id, string(d.Status), d.ChallengerScore, d.ChallengedScore, d.WinnerID); err != nil {
		return nil, fmt.Errorf("update duel: %w", err)
	}

	return &d, tx.Commit(ctx)
}

func (s *Storage) ListOpenDuels(ctx context.Context, playerID string) ([]domain.Duel, error) {
	const where = `
WHERE (challenger_id = $1 OR challenged_id = $1) AND status IN ('pending', 'active')
ORDER BY created_at DESC, id;`

	rows, err := s.db.Query(ctx, selectDuel+where, playerID)
	if err != nil {
		return nil, fmt.Errorf("list duels: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Duel, error) {
		return scanDuel(r)
	})
}

func notFound(err error) error {
	if stderrors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}
