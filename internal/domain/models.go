package domain

// Domain contains core models shared by the ingestion pipeline.

// SourceRecord is one loosely typed entry of an upstream data feed.
type SourceRecord map[string]any

// CanonicalRecord is a helpline resource ready to be announced.
type CanonicalRecord struct {
	Description string   `json:"description" validate:"required"`
	Category    string   `json:"category" validate:"required"`
	State       string   `json:"state" validate:"required"`
	PhoneNumber []string `json:"phoneNumber" validate:"required,min=1,dive,phone"`
	District    string   `json:"district,omitempty"`
	AddedOn     any      `json:"addedOn,omitempty"`
	ModifiedOn  any      `json:"modifiedOn,omitempty"`
}

// Announcement is the payload delivered to the aggregation endpoint.
type Announcement struct {
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Source    string `json:"source"`
}

// PublishResult reports the outcome of publishing one record: an ID and
// message on success, an error otherwise.
type PublishResult struct {
	ID      string `json:"_id,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// OK reports whether the record was published.
func (r PublishResult) OK() bool { return r.Error == "" && r.Err == nil }
