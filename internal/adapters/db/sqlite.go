package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteRepository persists conference documents in a local sqlite file.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers from blocking the open-flag writers.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS conferences (
		id TEXT PRIMARY KEY,
		open INTEGER NOT NULL DEFAULT 0,
		config TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := sqlDB.Exec(schema); err != nil {
		return nil, err
	}

	log.Info().Str("module", "adapters.db").Str("path", dbPath).Msg("conference database initialized")
	return &SQLiteRepository{db: sqlDB}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type conferenceConfig struct {
	Moderators           []string       `json:"moderators"`
	Permissions          map[string]any `json:"permissions"`
	ModeratorPermissions map[string]any `json:"moderatorPermissions"`
}

func (r *SQLiteRepository) CreateConference(ctx context.Context, conf *Conference) error {
	cfg, err := json.Marshal(conferenceConfig{
		Moderators:           conf.Moderators,
		Permissions:          conf.Permissions,
		ModeratorPermissions: conf.ModeratorPermissions,
	})
	if err != nil {
		return err
	}

	open := 0
	if conf.Open {
		open = 1
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO conferences (id, open, config, created_at) VALUES (?, ?, ?, ?)`,
		conf.ID, open, string(cfg), time.Now().UTC())
	return err
}

func (r *SQLiteRepository) FindConferenceByID(ctx context.Context, id string) (*Conference, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, open, config, created_at FROM conferences WHERE id = ?`, id)

	var (
		conf    Conference
		open    int
		rawCfg  string
	)
	if err := row.Scan(&conf.ID, &open, &rawCfg, &conf.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConferenceNotFound
		}
		return nil, err
	}

	var cfg conferenceConfig
	if err := json.Unmarshal([]byte(rawCfg), &cfg); err != nil {
		return nil, err
	}

	conf.Open = open != 0
	conf.Moderators = cfg.Moderators
	conf.Permissions = cfg.Permissions
	conf.ModeratorPermissions = cfg.ModeratorPermissions
	return &conf, nil
}

func (r *SQLiteRepository) SetConferenceOpen(ctx context.Context, id string, open bool) error {
	val := 0
	if open {
		val = 1
	}
	res, err := r.db.ExecContext(ctx, `UPDATE conferences SET open = ? WHERE id = ?`, val, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConferenceNotFound
	}
	return nil
}

func (r *SQLiteRepository) IsConferenceOpen(ctx context.Context, id string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT open FROM conferences WHERE id = ?`, id)
	var open int
	if err := row.Scan(&open); err != nil {
		if err == sql.ErrNoRows {
			return false, ErrConferenceNotFound
		}
		return false, err
	}
	return open != 0, nil
}
