package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"telecine/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pingTimeout = 5 * time.Second

// Store is the SQLite persistence layer for the library tree, library roots,
// and playback progress.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and brings the schema up to
// date. The parent directory is created if missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL with a busy timeout avoids "database is locked" under the
	// scanner's concurrent writes.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Printf("[store] database ready at %s", path)
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Roots returns the library roots registered in the database.
func (s *Store) Roots(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM roots ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("load roots: %w", err)
	}
	defer rows.Close()

	var roots []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan root: %w", err)
		}
		roots = append(roots, path)
	}
	return roots, rows.Err()
}

// AddRoot registers a library root; adding an existing root is a no-op.
func (s *Store) AddRoot(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO roots (path) VALUES (?) ON CONFLICT (path) DO NOTHING`, path)
	if err != nil {
		return fmt.Errorf("add root %q: %w", path, err)
	}
	return nil
}

// SaveShows replaces the stored library tree with the scan result. Playback
// progress is kept; episode IDs are stable across rescans so it still lines up.
func (s *Store) SaveShows(ctx context.Context, shows []models.Show) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM episodes`); err != nil {
		return fmt.Errorf("clear episodes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM shows`); err != nil {
		return fmt.Errorf("clear shows: %w", err)
	}

	showStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO shows (id, name, path, overview, poster, premiere) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare show insert: %w", err)
	}
	defer showStmt.Close()

	epStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO episodes (id, show_id, season, episode, title, path, container, size, duration, added_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare episode insert: %w", err)
	}
	defer epStmt.Close()

	for _, show := range shows {
		if _, err := showStmt.ExecContext(ctx,
			show.ID, show.Name, show.Path, show.Overview, show.Poster, show.Premiere); err != nil {
			return fmt.Errorf("insert show %q: %w", show.Name, err)
		}
		for _, season := range show.Seasons {
			for _, ep := range season.Episodes {
				if _, err := epStmt.ExecContext(ctx,
					ep.ID, show.ID, season.Number, ep.Episode, ep.Title,
					ep.File.Path, ep.File.Container, ep.File.Size, ep.File.Duration,
					ep.AddedAt.Unix()); err != nil {
					return fmt.Errorf("insert episode %q: %w", ep.File.Path, err)
				}
			}
		}
	}
	return tx.Commit()
}

// Shows loads the full library tree, ordered by show name then season and
// episode number.
func (s *Store) Shows(ctx context.Context) ([]models.Show, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, overview, poster, premiere FROM shows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load shows: %w", err)
	}
	defer rows.Close()

	var shows []models.Show
	index := make(map[string]int)
	for rows.Next() {
		var show models.Show
		if err := rows.Scan(&show.ID, &show.Name, &show.Path, &show.Overview, &show.Poster, &show.Premiere); err != nil {
			return nil, fmt.Errorf("scan show: %w", err)
		}
		index[show.ID] = len(shows)
		shows = append(shows, show)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	epRows, err := s.db.QueryContext(ctx,
		`SELECT id, show_id, season, episode, title, path, container, size, duration, added_at
		 FROM episodes ORDER BY show_id, season, episode, path`)
	if err != nil {
		return nil, fmt.Errorf("load episodes: %w", err)
	}
	defer epRows.Close()

	for epRows.Next() {
		var ep models.Episode
		var addedAt int64
		if err := epRows.Scan(&ep.ID, &ep.ShowID, &ep.Season, &ep.Episode, &ep.Title,
			&ep.File.Path, &ep.File.Container, &ep.File.Size, &ep.File.Duration, &addedAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.AddedAt = time.Unix(addedAt, 0).UTC()

		i, ok := index[ep.ShowID]
		if !ok {
			continue
		}
		show := &shows[i]
		if n := len(show.Seasons); n == 0 || show.Seasons[n-1].Number != ep.Season {
			show.Seasons = append(show.Seasons, models.Season{Number: ep.Season})
		}
		season := &show.Seasons[len(show.Seasons)-1]
		season.Episodes = append(season.Episodes, ep)
	}
	return shows, epRows.Err()
}

// RecordDuration backfills an episode duration learned at probe time. Paths
// not in the library are ignored.
func (s *Store) RecordDuration(path string, seconds float64) error {
	_, err := s.db.Exec(`UPDATE episodes SET duration = ? WHERE path = ?`, seconds, path)
	if err != nil {
		return fmt.Errorf("record duration for %q: %w", path, err)
	}
	return nil
}

// Progress returns the stored playback progress for an episode.
func (s *Store) Progress(ctx context.Context, episodeID string) (models.PlaybackProgress, bool, error) {
	var p models.PlaybackProgress
	var watched int
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT episode_id, position, duration, watched, updated_at FROM progress WHERE episode_id = ?`,
		episodeID).Scan(&p.EpisodeID, &p.Position, &p.Duration, &watched, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PlaybackProgress{}, false, nil
	}
	if err != nil {
		return models.PlaybackProgress{}, false, fmt.Errorf("load progress for %q: %w", episodeID, err)
	}
	p.Watched = watched != 0
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return p, true, nil
}

// SaveProgress upserts playback progress for an episode.
func (s *Store) SaveProgress(ctx context.Context, p models.PlaybackProgress) error {
	watched := 0
	if p.Watched {
		watched = 1
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress (episode_id, position, duration, watched, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (episode_id) DO UPDATE SET
		   position = excluded.position,
		   duration = excluded.duration,
		   watched = excluded.watched,
		   updated_at = excluded.updated_at`,
		p.EpisodeID, p.Position, p.Duration, watched, p.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save progress for %q: %w", p.EpisodeID, err)
	}
	return nil
}
