package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mailroom-io/mailroom/internal/model"
)

// PostgresSource executes segment queries against a Postgres data
// connector. Queries run under a hard timeout and the segment's row
// limit; both exceeded limits and schema violations surface as
// BuildErrors.
type PostgresSource struct {
	db           *sqlx.DB
	queryTimeout time.Duration
	defaultLimit int
}

func NewPostgresSource(db *sqlx.DB, queryTimeout time.Duration, defaultLimit int) *PostgresSource {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	if defaultLimit <= 0 {
		defaultLimit = 100000
	}
	return &PostgresSource{db: db, queryTimeout: queryTimeout, defaultLimit: defaultLimit}
}

func (s *PostgresSource) Query(ctx context.Context, segment *model.Segment) (Rows, error) {
	limit := segment.RowLimit
	if limit <= 0 {
		limit = s.defaultLimit
	}

	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)

	rows, err := s.db.QueryxContext(qctx, segment.Query)
	if err != nil {
		cancel()
		if qctx.Err() == context.DeadlineExceeded {
			return nil, &BuildError{Reason: "query timeout", Err: err}
		}
		return nil, &BuildError{Reason: "query failed", Err: err}
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return nil, &BuildError{Reason: "failed to read result columns", Err: err}
	}
	idCol, err := ValidateColumns(cols)
	if err != nil {
		rows.Close()
		cancel()
		return nil, err
	}

	return &pgRows{rows: rows, cancel: cancel, idCol: idCol, limit: limit}, nil
}

type pgRows struct {
	rows   *sqlx.Rows
	cancel context.CancelFunc
	idCol  string
	limit  int

	count int
	cur   Row
	err   error
}

func (r *pgRows) Next() bool {
	if r.err != nil || r.count >= r.limit {
		return false
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			r.err = &BuildError{Reason: "row scan failed", Err: err}
		}
		return false
	}

	raw := map[string]interface{}{}
	if err := r.rows.MapScan(raw); err != nil {
		r.err = &BuildError{Reason: "row scan failed", Err: err}
		return false
	}

	subjectID, ok := stringValue(raw[r.idCol])
	if !ok || subjectID == "" {
		r.err = &BuildError{Reason: fmt.Sprintf("row %d has empty %s", r.count, r.idCol)}
		return false
	}
	email, ok := stringValue(raw["email"])
	if !ok || email == "" {
		r.err = &BuildError{Reason: fmt.Sprintf("row %d has empty email", r.count)}
		return false
	}

	// Remaining columns become template vars.
	delete(raw, r.idCol)
	delete(raw, "email")
	vars, err := encodeVars(raw)
	if err != nil {
		r.err = &BuildError{Reason: fmt.Sprintf("row %d has unencodable vars", r.count), Err: err}
		return false
	}

	r.cur = Row{SubjectID: subjectID, Email: email, Vars: vars}
	r.count++
	return true
}

func (r *pgRows) Row() Row { return r.cur }

func (r *pgRows) Err() error { return r.err }

func (r *pgRows) Close() error {
	defer r.cancel()
	return r.rows.Close()
}

// encodeVars turns the leftover columns into a JSON object. MapScan hands
// text columns back as []byte, which json.Marshal would base64-encode,
// so those convert to strings first.
func encodeVars(raw map[string]interface{}) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	for k, v := range raw {
		if b, ok := v.([]byte); ok {
			raw[k] = string(b)
		}
	}
	return json.Marshal(raw)
}

func stringValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case int64:
		return fmt.Sprintf("%d", t), true
	case sql.NullString:
		return t.String, t.Valid
	default:
		return "", false
	}
}
