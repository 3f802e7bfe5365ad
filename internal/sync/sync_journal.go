package sync

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gobdpan/bdpan/internal/db"
	"github.com/jmoiron/sqlx"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    action TEXT NOT NULL,
    direction TEXT NOT NULL,
    path TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL -- RFC3339
);

CREATE INDEX IF NOT EXISTS idx_history_path ON sync_history(path);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON sync_history(created_at);
`

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// JournalRecord is one executed decision
type JournalRecord struct {
	ID        int64     `db:"id"`
	RunID     string    `db:"run_id"`
	Action    Action    `db:"action"`
	Direction Direction `db:"direction"`
	Path      string    `db:"path"`
	Source    string    `db:"source"`
	Size      int64     `db:"size"`
	Status    string    `db:"status"`
	Error     string    `db:"error"`
	CreatedAt time.Time `db:"-"`
}

type dbJournalRecord struct {
	JournalRecord
	CreatedAt string `db:"created_at"`
}

// Journal keeps the history of executed decisions in SQLite.
type Journal struct {
	db     *sqlx.DB
	dbPath string
}

// NewJournal returns a journal stored at dbPath. ":memory:" keeps it in memory.
func NewJournal(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

func (j *Journal) Open() error {
	if j.db != nil {
		return fmt.Errorf("journal already open")
	}

	conn, err := db.NewSqliteDB(db.WithPath(j.dbPath), db.WithMaxOpenConns(1), db.WithMaxIdleConns(1))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := conn.Exec(journalSchema); err != nil {
		conn.Close()
		return fmt.Errorf("initialize journal schema: %w", err)
	}

	j.db = conn
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return fmt.Errorf("journal not open")
	}
	err := j.db.Close()
	j.db = nil
	if err != nil {
		slog.Error("failed to close journal", "error", err)
	}
	return err
}

// Record appends rec. A zero CreatedAt is set to now.
func (j *Journal) Record(rec *JournalRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot record nil entry")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	row := dbJournalRecord{JournalRecord: *rec, CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339)}
	res, err := j.db.NamedExec(`INSERT INTO sync_history
		(run_id, action, direction, path, source, size, status, error, created_at)
		VALUES (:run_id, :action, :direction, :path, :source, :size, :status, :error, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("record %s: %w", rec.Path, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// Recent returns up to limit records, newest first
func (j *Journal) Recent(limit int) ([]*JournalRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []dbJournalRecord
	err := j.db.Select(&rows, `SELECT id, run_id, action, direction, path, source, size, status, error, created_at
		FROM sync_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	records := make([]*JournalRecord, 0, len(rows))
	for _, row := range rows {
		rec := row.JournalRecord
		created, err := time.Parse(time.RFC3339, row.CreatedAt)
		if err != nil {
			slog.Warn("skipping history row with bad timestamp", "id", row.ID, "value", row.CreatedAt)
			continue
		}
		rec.CreatedAt = created
		records = append(records, &rec)
	}
	return records, nil
}

func (j *Journal) Count() (int, error) {
	var count int
	if err := j.db.Get(&count, "SELECT COUNT(*) FROM sync_history"); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return count, nil
}
