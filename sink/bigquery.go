package sink

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// DefaultTable is the warehouse table holding archived enrichment rows.
const DefaultTable = "enrichment_raw_data"

// row is the BigQuery representation of a Record. Nested payloads are stored
// as JSON strings so schema churn in provider responses never breaks inserts.
type row struct {
	JobID          string             `bigquery:"job_id"`
	TaskName       string             `bigquery:"task_name"`
	EnrichmentType string             `bigquery:"enrichment_type"`
	AccountID      string             `bigquery:"account_id"`
	LeadID         string             `bigquery:"lead_id"`
	TenantID       string             `bigquery:"tenant_id"`
	Status         string             `bigquery:"status"`
	AttemptNumber  int                `bigquery:"attempt_number"`
	TraceID        string             `bigquery:"trace_id"`
	RawData        string             `bigquery:"raw_data"`
	ProcessedData  string             `bigquery:"processed_data"`
	ErrorDetails   string             `bigquery:"error_details"`
	CreatedAt      bigquery.NullTimestamp `bigquery:"created_at"`
}

type inserter interface {
	Put(ctx context.Context, src any) error
}

// BigQuery streams records into the warehouse.
type BigQuery struct {
	inserter inserter
}

// NewBigQuery creates a sink writing to dataset.table in the given project.
func NewBigQuery(ctx context.Context, projectID, dataset, table string) (*BigQuery, error) {
	if table == "" {
		table = DefaultTable
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return &BigQuery{
		inserter: client.Dataset(dataset).Table(table).Inserter(),
	}, nil
}

// Persist implements Sink.
func (b *BigQuery) Persist(ctx context.Context, rec *Record) error {
	r := &row{
		JobID:          rec.JobID,
		TaskName:       rec.TaskName,
		EnrichmentType: rec.EnrichmentType,
		AccountID:      rec.AccountID,
		LeadID:         rec.LeadID,
		TenantID:       rec.TenantID,
		Status:         rec.Status,
		AttemptNumber:  rec.AttemptNumber,
		TraceID:        rec.TraceID,
		RawData:        rowJSON(rec.RawData),
		ProcessedData:  rowJSON(rec.ProcessedData),
		ErrorDetails:   rowJSON(rec.ErrorDetails),
		CreatedAt:      bigquery.NullTimestamp{Timestamp: rec.CreatedAt, Valid: !rec.CreatedAt.IsZero()},
	}
	if err := b.inserter.Put(ctx, r); err != nil {
		return fmt.Errorf("insert enrichment row for job %s: %w", rec.JobID, err)
	}
	return nil
}
