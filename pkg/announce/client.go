// Package announce turns canonical helpline records into human-readable
// announcements and posts them to the aggregation endpoint.
package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samvad-hq/helpline-relay/internal/domain"
	"github.com/samvad-hq/helpline-relay/pkg/datetime"
	"github.com/samvad-hq/helpline-relay/pkg/httpclient"
	"github.com/samvad-hq/helpline-relay/pkg/ident"
	"github.com/samvad-hq/helpline-relay/pkg/publishers"
)

// CreatedAtLayout renders created_at as ISO-8601 with the zone offset.
const CreatedAtLayout = "2006-01-02T15:04:05.999999-07:00"

// Logger is the logging surface the client relies on.
type Logger = publishers.Logger

// Mirror receives every announcement the endpoint accepted.
// *publishers.Fanout satisfies it.
type Mirror interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Config holds the endpoint settings.
type Config struct {
	URL     string
	Source  string
	Timeout time.Duration
}

// Client posts announcements one record at a time. It keeps no state between
// calls.
type Client struct {
	cfg      Config
	http     httpclient.Client
	dates    *datetime.Normalizer
	log      Logger
	mirror   Mirror
	validate *validator.Validate
	now      func() time.Time
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the resty-backed transport.
func WithHTTPClient(h httpclient.Client) ClientOption { return func(c *Client) { c.http = h } }

// WithNormalizer sets the normalizer used for created_at.
func WithNormalizer(n *datetime.Normalizer) ClientOption { return func(c *Client) { c.dates = n } }

// WithLogger sets the logger.
func WithLogger(l Logger) ClientOption { return func(c *Client) { c.log = l } }

// WithMirror forwards accepted announcements to m.
func WithMirror(m Mirror) ClientOption { return func(c *Client) { c.mirror = m } }

// New builds a Client. URL and Source are required.
func New(cfg Config, opts ...ClientOption) (*Client, error) {
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.Source = strings.TrimSpace(cfg.Source)
	if cfg.URL == "" {
		return nil, errors.New("announce: endpoint url is required")
	}
	if cfg.Source == "" {
		return nil, errors.New("announce: source tag is required")
	}

	c := &Client{cfg: cfg, validate: newValidator()}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = httpclient.NewRestyClient(cfg.Timeout)
	}
	if c.dates == nil {
		n, err := datetime.New(datetime.Options{})
		if err != nil {
			return nil, err
		}
		c.dates = n
	}
	if c.log == nil {
		c.log = nopLogger{}
	}
	c.now = c.dates.Now
	return c, nil
}

// Source returns the tag stamped on every announcement.
func (c *Client) Source() string { return c.cfg.Source }

// PublishOption tunes a single Publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	raiseOnError bool
}

// WithRaiseOnError selects fail-fast (true, the default) or collect mode.
func WithRaiseOnError(v bool) PublishOption {
	return func(o *publishOptions) { o.raiseOnError = v }
}

type prepared struct {
	id  string
	ann domain.Announcement
	err error
}

// Publish validates and posts records in order and returns one result per
// record.
//
// In fail-fast mode every record is validated before anything is posted, so
// an invalid record means nothing is published; the first remote failure stops
// the batch and returns the results gathered so far with the error. In collect
// mode every record is attempted and failures are reported inline.
func (c *Client) Publish(ctx context.Context, records []domain.CanonicalRecord, opts ...PublishOption) ([]domain.PublishResult, error) {
	o := publishOptions{raiseOnError: true}
	for _, opt := range opts {
		opt(&o)
	}

	batch := make([]prepared, len(records))
	for i, r := range records {
		batch[i] = c.prepare(i, r)
		if batch[i].err != nil && o.raiseOnError {
			c.logFailure(i, batch[i].err)
			return nil, batch[i].err
		}
	}

	results := make([]domain.PublishResult, 0, len(records))
	for i, p := range batch {
		if p.err != nil {
			c.logFailure(i, p.err)
			results = append(results, failure(p.err))
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		msg, err := c.post(ctx, i, p.ann)
		if err != nil {
			c.logFailure(i, err)
			if o.raiseOnError {
				return results, err
			}
			results = append(results, failure(err))
			continue
		}

		results = append(results, domain.PublishResult{ID: p.id, Message: msg})
		c.forward(ctx, p.id, p.ann)
	}
	return results, nil
}

// prepare validates a record and builds its announcement and id.
func (c *Client) prepare(index int, r domain.CanonicalRecord) prepared {
	if err := c.check(index, r); err != nil {
		return prepared{err: err}
	}

	created, err := c.createdAt(index, r)
	if err != nil {
		return prepared{err: err}
	}

	return prepared{
		id: ident.ForRecord(r.Description, r.Category, r.State, r.PhoneNumber),
		ann: domain.Announcement{
			Text:      Text(r),
			CreatedAt: created.Format(CreatedAtLayout),
			Source:    c.cfg.Source,
		},
	}
}

// Text renders the human-readable announcement for r.
func Text(r domain.CanonicalRecord) string {
	var b strings.Builder
	if r.Description != "" {
		b.WriteString(r.Description)
		b.WriteString(". ")
	}
	fmt.Fprintf(&b, "%s available. Call tel: %s, Location:", r.Category, strings.Join(r.PhoneNumber, " or "))
	if r.District != "" {
		b.WriteString(r.District)
		b.WriteString(", ")
	}
	b.WriteString(r.State)
	return b.String()
}

// createdAt prefers modifiedOn, then addedOn, then the current time. Empty
// values and null sentinels fall through to the next candidate.
func (c *Client) createdAt(index int, r domain.CanonicalRecord) (time.Time, error) {
	candidates := []struct {
		field string
		value any
	}{
		{field: "modifiedOn", value: r.ModifiedOn},
		{field: "addedOn", value: r.AddedOn},
	}
	for _, cand := range candidates {
		if isEmptyValue(cand.value) {
			continue
		}
		t, err := c.dates.Normalize(cand.value)
		if err != nil {
			return time.Time{}, &ValidationError{Index: index, Field: cand.field, Value: cand.value, Reason: fmt.Errorf("%w: %v", ErrInvalidDate, err)}
		}
		if !t.IsZero() {
			return t, nil
		}
	}
	return c.now().In(c.dates.Location()), nil
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case json.Number:
		return x == "" || x == "0"
	case int:
		return x == 0
	case int64:
		return x == 0
	case float64:
		return x == 0
	}
	return false
}

// post submits one announcement as a one-element JSON array.
func (c *Client) post(ctx context.Context, index int, ann domain.Announcement) (string, error) {
	c.log.InfoObj("sending announcement", "announcement", map[string]any{
		"row":        index,
		"text":       ann.Text,
		"created_at": ann.CreatedAt,
		"source":     ann.Source,
	})

	resp, err := c.http.Post(ctx, c.cfg.URL, nil, []domain.Announcement{ann})
	if err != nil {
		return "", fmt.Errorf("posting data row %d: %w", index, err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return "", &RemoteError{Index: index, StatusCode: resp.StatusCode(), Body: strings.TrimSpace(string(resp.Body()))}
	}

	msg := fmt.Sprintf("Sending data row: %d successful", index)
	var body struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Message != nil {
		msg = *body.Message
	}
	c.log.InfoObj("announcement accepted", "announcement_result", map[string]any{
		"row":     index,
		"message": msg,
	})
	return msg, nil
}

// forward mirrors an accepted announcement; mirror failures are logged only.
func (c *Client) forward(ctx context.Context, id string, ann domain.Announcement) {
	if c.mirror == nil {
		return
	}
	if _, err := c.mirror.Publish(ctx, publishers.NewEvent(id, ann)); err != nil {
		c.log.WarnObj("mirror publish failed", "mirror_error", map[string]any{
			"record_id": id,
			"error":     err.Error(),
		})
	}
}

func (c *Client) logFailure(index int, err error) {
	c.log.ErrorObj("announcement failed", "announcement_error", map[string]any{
		"row":   index,
		"error": err.Error(),
	})
}

func failure(err error) domain.PublishResult {
	return domain.PublishResult{Error: err.Error(), Err: err}
}

// Collapse returns nil, nil for no results, the bare result for exactly one,
// and the full list otherwise.
func Collapse(results []domain.PublishResult) (*domain.PublishResult, []domain.PublishResult) {
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		r := results[0]
		return &r, nil
	default:
		return nil, results
	}
}

type nopLogger struct{}

func (nopLogger) InfoObj(string, string, interface{})  {}
func (nopLogger) DebugObj(string, string, interface{}) {}
func (nopLogger) WarnObj(string, string, interface{})  {}
func (nopLogger) ErrorObj(string, string, interface{}) {}
