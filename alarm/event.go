// Package alarm - Alarm events and the sinks they are delivered to: proof images, webhook and journal.
package alarm

import (
	"context"
	"time"

	"github.com/nvr-ai/traywatch/tracking"
)

// Event is the alarm payload. The first four fields are the webhook wire format.
type Event struct {
	TransactionID string            `json:"transaction_uuid"`
	ProofURL      string            `json:"proof_url"`
	Category      tracking.Category `json:"item_category"`
	EmittedAt     time.Time         `json:"origin_time"`

	VideoID  string `json:"video_id,omitempty"`
	TrackID  int    `json:"track_id,omitempty"`
	MaxCount int    `json:"max_count,omitempty"`
	Closing  bool   `json:"closing,omitempty"`
}

// Notifier delivers an event to a remote receiver.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Journal durably records events per transaction.
type Journal interface {
	Append(ctx context.Context, ev Event) error
}

// Reader lists the events recorded for a transaction, oldest first.
type Reader interface {
	List(ctx context.Context, transactionID string) ([]Event, error)
}
