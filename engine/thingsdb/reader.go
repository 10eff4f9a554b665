// Package thingsdb reads Things' on-disk SQLite store directly. It is the
// fast path for list and search operations; it never writes, and any failure
// here is a signal for the router to fall back to the automation path.
package thingsdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/pkg/logger"
)

// Reader wraps a read-only handle on the Things database. Safe for
// concurrent readers.
type Reader struct {
	db   *sql.DB
	path string
}

// Open opens the database read-only and probes the expected schema. A
// locked, absent, or schema-mismatched file returns a typed error so the
// caller can route around the DB instead of surfacing it.
func Open(ctx context.Context, path string) (*Reader, error) {
	if path == "" {
		return nil, core.NewError(core.CodeBackendUnavailable, "things database path is not configured")
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(500)&_pragma=query_only(1)", url.PathEscape(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.WrapError(core.CodeBackendUnavailable, "open things database", err)
	}
	// The handle is shared by the read pool; sqlite serializes internally.
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(time.Minute)

	r := &Reader{db: db, path: path}
	if err := r.probe(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.FromContext(ctx).Info("things database opened", "path", path)
	return r, nil
}

// probe verifies the tables the queries depend on exist.
func (r *Reader) probe(ctx context.Context) error {
	for _, table := range []string{"TMTask", "TMTag", "TMTaskTag", "TMArea", "TMChecklistItem"} {
		var one int
		q := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", table)
		if err := r.db.QueryRowContext(ctx, q).Scan(&one); err != nil && err != sql.ErrNoRows {
			return core.WrapError(core.CodeBackendUnavailable,
				fmt.Sprintf("things database schema mismatch on %s", table), err)
		}
	}
	return nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}

// Things stores task status as 0 (open), 2 (canceled), 3 (completed), and
// the start bucket as 0 (inbox), 1 (anytime/scheduled), 2 (someday).
const (
	dbStatusOpen      = 0
	dbStatusCanceled  = 2
	dbStatusCompleted = 3

	dbStartInbox   = 0
	dbStartAnytime = 1
	dbStartSomeday = 2

	dbTypeTodo    = 0
	dbTypeProject = 1
)

func statusFromDB(s int) core.Status {
	switch s {
	case dbStatusCompleted:
		return core.StatusCompleted
	case dbStatusCanceled:
		return core.StatusCanceled
	default:
		return core.StatusOpen
	}
}

// DBStatus maps a core status onto the stored value.
func DBStatus(s core.Status) int {
	switch s {
	case core.StatusCompleted:
		return dbStatusCompleted
	case core.StatusCanceled:
		return dbStatusCanceled
	default:
		return dbStatusOpen
	}
}

func isoFromEpoch(v sql.NullFloat64) string {
	if !v.Valid || v.Float64 == 0 {
		return ""
	}
	return time.Unix(int64(v.Float64), 0).Format("2006-01-02T15:04:05")
}

// reminderFromSeconds renders a seconds-from-midnight value as HH:MM.
func reminderFromSeconds(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	secs := int(v.Float64)
	return fmt.Sprintf("%02d:%02d", secs/3600, (secs%3600)/60)
}
