package source

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailroom-io/mailroom/internal/model"
)

func TestValidateColumns(t *testing.T) {
	tests := []struct {
		name    string
		cols    []string
		wantID  string
		wantErr string
	}{
		{name: "subject_id", cols: []string{"subject_id", "email"}, wantID: "subject_id"},
		{name: "recipient_id", cols: []string{"email", "recipient_id"}, wantID: "recipient_id"},
		{name: "bare id", cols: []string{"id", "email", "first_name"}, wantID: "id"},
		{name: "extra columns pass through", cols: []string{"subject_id", "email", "plan", "signup_date"}, wantID: "subject_id"},
		{name: "no id column", cols: []string{"email", "name"}, wantErr: "no recognized id column"},
		{name: "no email column", cols: []string{"subject_id", "name"}, wantErr: "no email column"},
		{name: "ambiguous id columns", cols: []string{"subject_id", "id", "email"}, wantErr: "multiple id columns"},
		{name: "empty result set", cols: nil, wantErr: "no recognized id column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ValidateColumns(tt.cols)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				var buildErr *BuildError
				assert.ErrorAs(t, err, &buildErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestFakeSourceRespectsRowLimit(t *testing.T) {
	src := &FakeSource{RowSet: []Row{
		{SubjectID: "u1", Email: "a@example.com"},
		{SubjectID: "u2", Email: "b@example.com"},
		{SubjectID: "u3", Email: "c@example.com"},
	}}

	rows, err := src.Query(context.Background(), &model.Segment{RowLimit: 2})
	require.NoError(t, err)
	defer rows.Close()

	var got []Row
	for rows.Next() {
		got = append(got, rows.Row())
	}
	require.NoError(t, rows.Err())
	assert.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].SubjectID)
}

func TestFakeSourceMidStreamFailure(t *testing.T) {
	streamErr := errors.New("connection reset")
	src := &FakeSource{
		RowSet: []Row{
			{SubjectID: "u1", Email: "a@example.com"},
			{SubjectID: "u2", Email: "b@example.com"},
		},
		RowErr:    streamErr,
		FailAfter: 1,
	}

	rows, err := src.Query(context.Background(), &model.Segment{})
	require.NoError(t, err)

	var seen int
	for rows.Next() {
		seen++
	}
	assert.Equal(t, 1, seen)
	assert.ErrorIs(t, rows.Err(), streamErr)
}

func TestBuildErrorUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &BuildError{Reason: "segment query", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "audience build failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestEncodeVarsConvertsByteColumns(t *testing.T) {
	vars, err := encodeVars(map[string]interface{}{
		"first_name": []byte("Ada"),
		"plan":       "pro",
		"seats":      int64(3),
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(vars, &decoded))
	assert.Equal(t, "Ada", decoded["first_name"])
	assert.Equal(t, "pro", decoded["plan"])
	assert.Equal(t, float64(3), decoded["seats"])
}

func TestEncodeVarsEmptyMapIsNil(t *testing.T) {
	vars, err := encodeVars(map[string]interface{}{})
	require.NoError(t, err)
	assert.Nil(t, vars)
}

func TestEncodeVarsRejectsUnencodableValue(t *testing.T) {
	_, err := encodeVars(map[string]interface{}{"bad": make(chan int)})
	assert.Error(t, err)
}
