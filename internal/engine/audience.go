package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
	"github.com/mailroom-io/mailroom/internal/source"
	"github.com/mailroom-io/mailroom/pkg/logger"
	"github.com/mailroom-io/mailroom/pkg/metrics"
)

// AudienceBuilder turns a segment's query result into the run's
// recipient snapshot. The snapshot is written atomically: a build that
// fails partway persists nothing.
type AudienceBuilder struct {
	src        source.AudienceSource
	recipients repository.RecipientRepository
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewAudienceBuilder(src source.AudienceSource, recipients repository.RecipientRepository, log *logger.Logger, m *metrics.Metrics) *AudienceBuilder {
	return &AudienceBuilder{
		src:        src,
		recipients: recipients,
		logger:     log.WithComponent("audience"),
		metrics:    m,
	}
}

// Build streams the segment rows, dedupes by normalized subject id with
// last-write-wins vars, and persists one recipient per subject in a
// stable order. Any source failure is run-fatal.
func (b *AudienceBuilder) Build(ctx context.Context, run *model.Run, segment *model.Segment) (int, error) {
	rows, err := b.src.Query(ctx, segment)
	if err != nil {
		b.metrics.AudienceBuild.WithLabelValues("error").Inc()
		return 0, &RunFatalError{Reason: "audience source query failed", Err: err}
	}
	defer rows.Close()

	bySubject := make(map[string]*model.Recipient)
	for rows.Next() {
		row := rows.Row()
		subjectID := strings.TrimSpace(row.SubjectID)
		if existing, ok := bySubject[subjectID]; ok {
			// Duplicate subject in the source: last write wins on vars.
			existing.Email = model.NormalizeEmail(row.Email)
			existing.Vars = row.Vars
			continue
		}
		bySubject[subjectID] = &model.Recipient{
			ID:        uuid.New(),
			RunID:     run.ID,
			SubjectID: subjectID,
			Email:     model.NormalizeEmail(row.Email),
			Vars:      row.Vars,
			Status:    model.RecipientStatusPending,
		}
	}
	if err := rows.Err(); err != nil {
		b.metrics.AudienceBuild.WithLabelValues("error").Inc()
		return 0, &RunFatalError{Reason: "audience source stream failed", Err: err}
	}

	recipients := make([]*model.Recipient, 0, len(bySubject))
	for _, rec := range bySubject {
		recipients = append(recipients, rec)
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].SubjectID < recipients[j].SubjectID })

	if err := b.recipients.BulkInsert(ctx, recipients); err != nil {
		b.metrics.AudienceBuild.WithLabelValues("error").Inc()
		return 0, &RunFatalError{Reason: "failed to persist audience", Err: err}
	}

	b.metrics.AudienceBuild.WithLabelValues("ok").Inc()
	b.metrics.AudienceRows.Observe(float64(len(recipients)))
	b.logger.Info("audience built",
		"run_id", run.ID.String(),
		"segment_id", segment.ID.String(),
		"recipients", len(recipients),
	)
	return len(recipients), nil
}
