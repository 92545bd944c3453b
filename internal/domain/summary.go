package domain

import "time"

// DataSummary per-participant per-day byte counts for one data stream
// (data_summaries table). Recomputed from the chunk registry after each
// processing cycle; the date is in the study timezone.
type DataSummary struct {
	ID            int64     `db:"id"`
	ParticipantID int64     `db:"participant_id"`
	Date          time.Time `db:"date"` // date only, study-local
	DataStream    string    `db:"data_stream"`
	Bytes         int64     `db:"bytes"`
}
