package publishers

import "context"

// Publisher mirrors published announcements to a downstream sink (SQS, SNS,
// Pub/Sub, HTTP).
type Publisher interface {
	ID() string
	Type() string
	Publish(ctx context.Context, evt Event) error
}
