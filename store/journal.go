package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nvr-ai/traywatch/alarm"
	"github.com/nvr-ai/traywatch/tracking"
)

// Journal stores alarm events in the alarm_events table.
type Journal struct {
	db *DB
}

// NewJournal returns a journal on db. The schema must be migrated.
func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

// Append inserts ev.
func (j *Journal) Append(ctx context.Context, ev alarm.Event) error {
	if ev.TransactionID == "" {
		return errors.New("journal: empty transaction id")
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO alarm_events
			(transaction_id, video_id, track_id, category, max_count, proof_url, closing, emitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TransactionID, ev.VideoID, ev.TrackID, int(ev.Category), ev.MaxCount,
		ev.ProofURL, ev.Closing, formatTime(ev.EmittedAt),
	)
	return errors.Wrap(err, "insert alarm event")
}

// List returns the events of a transaction in insertion order.
func (j *Journal) List(ctx context.Context, transactionID string) ([]alarm.Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT transaction_id, video_id, track_id, category, max_count, proof_url, closing, emitted_at
		FROM alarm_events
		WHERE transaction_id = ?
		ORDER BY id`, transactionID)
	if err != nil {
		return nil, errors.Wrap(err, "query alarm events")
	}
	defer rows.Close()

	var events []alarm.Event
	for rows.Next() {
		var (
			ev      alarm.Event
			cat     int
			emitted string
		)
		if err := rows.Scan(&ev.TransactionID, &ev.VideoID, &ev.TrackID, &cat, &ev.MaxCount,
			&ev.ProofURL, &ev.Closing, &emitted); err != nil {
			return nil, errors.Wrap(err, "scan alarm event")
		}
		ev.Category = tracking.Category(cat)
		if ev.EmittedAt, err = parseTime(emitted); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, errors.Wrap(rows.Err(), "iterate alarm events")
}
