// Package source defines the audience source contract: executing a
// segment's read-only query against a data connector and streaming back
// validated {subject id, email, vars} rows.
package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mailroom-io/mailroom/internal/model"
)

// Row is one audience member returned by a connector.
type Row struct {
	SubjectID string
	Email     string
	Vars      json.RawMessage
}

// Rows streams audience rows. Usage mirrors sql.Rows: Next, Row, Err,
// Close.
type Rows interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// AudienceSource executes a segment's query. Implementations enforce the
// segment's row limit and the configured query timeout, and validate that
// the result set carries exactly one recognized id column and an email
// column.
type AudienceSource interface {
	Query(ctx context.Context, segment *model.Segment) (Rows, error)
}

// BuildError is run-fatal: connection failures, timeouts, and schema
// validation failures all abort audience building.
type BuildError struct {
	Reason string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audience build failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("audience build failed: %s", e.Reason)
}

func (e *BuildError) Unwrap() error { return e.Err }

// idColumns are the recognized subject id column names, in match order.
var idColumns = []string{"subject_id", "recipient_id", "id"}

const emailColumn = "email"

// ValidateColumns checks the segment contract: exactly one recognized id
// column and an email column must be present.
func ValidateColumns(cols []string) (idCol string, err error) {
	var matched []string
	hasEmail := false
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c] = true
		if c == emailColumn {
			hasEmail = true
		}
	}
	for _, candidate := range idColumns {
		if set[candidate] {
			matched = append(matched, candidate)
		}
	}
	if len(matched) == 0 {
		return "", &BuildError{Reason: "result set has no recognized id column (subject_id, recipient_id, or id)"}
	}
	if len(matched) > 1 {
		return "", &BuildError{Reason: fmt.Sprintf("result set has multiple id columns: %v", matched)}
	}
	if !hasEmail {
		return "", &BuildError{Reason: "result set has no email column"}
	}
	return matched[0], nil
}
