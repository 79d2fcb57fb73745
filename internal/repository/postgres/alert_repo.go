package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS alert_events (
	id          TEXT PRIMARY KEY,
	alert_id    TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	category    TEXT NOT NULL,
	agent_id    TEXT,
	actor       TEXT,
	alert       JSONB NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS alert_events_alert_id_idx ON alert_events (alert_id, timestamp);`

// Количество колонок в alert_events
const numFields = 9

// AlertArchiveRepo хранит историю жизненного цикла алертов.
type AlertArchiveRepo struct {
	db *sql.DB
}

func NewAlertArchiveRepo(connString string) (*AlertArchiveRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AlertArchiveRepo{db: db}, nil
}

func (r *AlertArchiveRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Migrate создает таблицу, если ее еще нет.
func (r *AlertArchiveRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate alert_events: %w", err)
	}
	return nil
}

func (r *AlertArchiveRepo) Close() error {
	return r.db.Close()
}

// WriteBatch вставляет пачку событий одним INSERT. Повторная запись того же события игнорируется.
func (r *AlertArchiveRepo) WriteBatch(ctx context.Context, events []domain.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}

	query, vals, err := buildInsert(events)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: insert alert events: %w", err)
	}
	return nil
}

// History возвращает события одного алерта в хронологическом порядке.
func (r *AlertArchiveRepo) History(ctx context.Context, alertID string, limit int) ([]domain.AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, alert_id, event_type, actor, alert, timestamp
		FROM alert_events
		WHERE alert_id = $1
		ORDER BY timestamp ASC
		LIMIT $2`, alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query alert history: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertEvent
	for rows.Next() {
		var (
			ev    domain.AlertEvent
			typ   string
			actor sql.NullString
			raw   []byte
		)
		if err := rows.Scan(&ev.ID, &ev.AlertID, &typ, &actor, &raw, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan alert event: %w", err)
		}
		ev.Type = domain.AlertEventType(typ)
		ev.Actor = actor.String
		if err := json.Unmarshal(raw, &ev.Alert); err != nil {
			return nil, fmt.Errorf("postgres: decode alert snapshot: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// buildInsert динамически строит запрос для пакетной вставки.
func buildInsert(events []domain.AlertEvent) (string, []interface{}, error) {
	var sb strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9)

		snapshot, err := json.Marshal(e.Alert)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: encode alert %s: %w", e.AlertID, err)
		}
		vals = append(vals,
			e.ID, e.AlertID, string(e.Type), string(e.Alert.Severity), string(e.Alert.Category),
			nullable(e.Alert.AgentID), nullable(e.Actor), snapshot, e.Timestamp,
		)
	}

	query := "INSERT INTO alert_events (id, alert_id, event_type, severity, category, agent_id, actor, alert, timestamp) VALUES " +
		sb.String() + " ON CONFLICT (id) DO NOTHING"
	return query, vals, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
