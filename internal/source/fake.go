package source

import (
	"context"

	"github.com/mailroom-io/mailroom/internal/model"
)

// FakeSource serves a fixed row set, for tests and demo mode. QueryErr
// fails the query up front; RowErr fails the stream mid-iteration after
// FailAfter rows.
type FakeSource struct {
	RowSet    []Row
	QueryErr  error
	RowErr    error
	FailAfter int
}

func (f *FakeSource) Query(_ context.Context, segment *model.Segment) (Rows, error) {
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	limit := segment.RowLimit
	if limit <= 0 || limit > len(f.RowSet) {
		limit = len(f.RowSet)
	}
	return &fakeRows{rows: f.RowSet[:limit], rowErr: f.RowErr, failAfter: f.FailAfter}, nil
}

type fakeRows struct {
	rows      []Row
	rowErr    error
	failAfter int

	idx int
	err error
}

func (r *fakeRows) Next() bool {
	if r.rowErr != nil && r.idx >= r.failAfter {
		r.err = r.rowErr
		return false
	}
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Row() Row     { return r.rows[r.idx-1] }
func (r *fakeRows) Err() error   { return r.err }
func (r *fakeRows) Close() error { return nil }
