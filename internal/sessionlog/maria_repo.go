package sessionlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MariaRepo журнал в таблице session_events MariaDB/MySQL
type MariaRepo struct {
	db *sql.DB
}

// NewMariaRepo открывает подключение по DSN вида
// user:pass@tcp(host:3306)/statesync?parseTime=true
func NewMariaRepo(ctx context.Context, dsn string) (*MariaRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaRepo{db: db}
	if err := repo.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}
	return repo, nil
}

func (m *MariaRepo) createTables(ctx context.Context) error {
	const createEvents = `
	CREATE TABLE IF NOT EXISTS session_events (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		kind VARCHAR(32) NOT NULL,
		participant_id BIGINT NOT NULL,
		entity_id BIGINT NOT NULL,
		recording_id VARCHAR(36) NOT NULL DEFAULT '',
		reason VARCHAR(255) NOT NULL DEFAULT '',
		source VARCHAR(64) NOT NULL,
		at DATETIME(6) NOT NULL,
		INDEX idx_at (at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.ExecContext(ctx, createEvents); err != nil {
		return fmt.Errorf("не удалось создать таблицу session_events: %w", err)
	}
	return nil
}

func (m *MariaRepo) Append(ctx context.Context, e Entry) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT IGNORE INTO session_events (id, kind, participant_id, entity_id, recording_id, reason, source, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.ParticipantID, e.EntityID, e.RecordingID, e.Reason, e.Source, e.At.UTC())
	if err != nil {
		return fmt.Errorf("ошибка записи в session_events: %w", err)
	}
	return nil
}

func (m *MariaRepo) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, kind, participant_id, entity_id, recording_id, reason, source, at
		 FROM session_events ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения session_events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.ParticipantID, &e.EntityID, &e.RecordingID, &e.Reason, &e.Source, &e.At); err != nil {
			return nil, fmt.Errorf("ошибка разбора строки session_events: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (m *MariaRepo) Close() error {
	return m.db.Close()
}
