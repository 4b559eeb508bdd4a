package publishers

import (
	"time"

	"github.com/samvad-hq/helpline-relay/internal/domain"
)

// Event is the envelope mirrored downstream for every announcement the
// aggregation endpoint accepted.
type Event struct {
	RecordID     string              `json:"record_id"`
	Source       string              `json:"source"`
	Announcement domain.Announcement `json:"announcement"`
	PublishedAt  time.Time           `json:"published_at"`
}

// NewEvent wraps an accepted announcement and the id the endpoint returned for it.
func NewEvent(recordID string, ann domain.Announcement) Event {
	return Event{
		RecordID:     recordID,
		Source:       ann.Source,
		Announcement: ann,
		PublishedAt:  time.Now().UTC(),
	}
}

// attributes are the message attributes set on queue and topic messages.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"record_id": e.RecordID,
		"source":    e.Source,
	}
}
