package announce

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samvad-hq/helpline-relay/internal/domain"
	"github.com/samvad-hq/helpline-relay/pkg/ident"
	"github.com/samvad-hq/helpline-relay/pkg/publishers"
)

type endpoint struct {
	mu       sync.Mutex
	received [][]domain.Announcement
	status   int
	body     string
}

func (e *endpoint) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		raw, _ := io.ReadAll(r.Body)
		var batch []domain.Announcement
		if err := json.Unmarshal(raw, &batch); err != nil {
			t.Errorf("decode batch: %v (%s)", err, raw)
		}
		e.mu.Lock()
		e.received = append(e.received, batch)
		status, body := e.status, e.body
		e.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func (e *endpoint) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.received)
}

func newTestClient(t *testing.T, e *endpoint, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(e.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL, Source: "Resources_API"}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2021, time.May, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func oxygenRecord() domain.CanonicalRecord {
	return domain.CanonicalRecord{
		Description: "Oxygen refill",
		Category:    "Oxygen",
		State:       "Kerala",
		District:    "Ernakulam",
		PhoneNumber: []string{"9876543210", "0484-2345678"},
		ModifiedOn:  "2021-05-01T00:00:00.000Z",
	}
}

type recordingMirror struct {
	events []publishers.Event
	err    error
}

func (m *recordingMirror) Publish(_ context.Context, evt publishers.Event) (int, error) {
	m.events = append(m.events, evt)
	return 1, m.err
}

func TestPublishSingleRecord(t *testing.T) {
	e := &endpoint{body: `{"message":"queued"}`}
	c := newTestClient(t, e)

	results, err := c.Publish(context.Background(), []domain.CanonicalRecord{oxygenRecord()})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(results) != 1 || !results[0].OK() {
		t.Fatalf("unexpected results %+v", results)
	}
	wantID := ident.ForRecord("Oxygen refill", "Oxygen", "Kerala", []string{"9876543210", "0484-2345678"})
	if results[0].ID != wantID {
		t.Fatalf("ID = %s, want %s", results[0].ID, wantID)
	}
	if results[0].Message != "queued" {
		t.Fatalf("Message = %q", results[0].Message)
	}

	if e.count() != 1 || len(e.received[0]) != 1 {
		t.Fatalf("expected one single-element batch, got %+v", e.received)
	}
	ann := e.received[0][0]
	wantText := "Oxygen refill. Oxygen available. Call tel: 9876543210 or 0484-2345678, Location:Ernakulam, Kerala"
	if ann.Text != wantText {
		t.Fatalf("Text = %q\nwant  %q", ann.Text, wantText)
	}
	if ann.CreatedAt != "2021-05-01T05:30:00+05:30" {
		t.Fatalf("CreatedAt = %q", ann.CreatedAt)
	}
	if ann.Source != "Resources_API" {
		t.Fatalf("Source = %q", ann.Source)
	}
}

func TestPublishGenericSuccessMessage(t *testing.T) {
	e := &endpoint{body: "ok"}
	c := newTestClient(t, e)

	records := []domain.CanonicalRecord{oxygenRecord(), oxygenRecord()}
	records[1].State = "Goa"
	results, err := c.Publish(context.Background(), records)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if results[1].Message != "Sending data row: 1 successful" {
		t.Fatalf("Message = %q", results[1].Message)
	}
}

func TestPublishCollectModeReportsInlineErrors(t *testing.T) {
	e := &endpoint{}
	c := newTestClient(t, e)

	records := []domain.CanonicalRecord{oxygenRecord(), oxygenRecord(), oxygenRecord()}
	records[1].PhoneNumber = []string{}
	records[2].State = "Goa"

	results, err := c.Publish(context.Background(), records, WithRaiseOnError(false))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].OK() || !results[2].OK() {
		t.Fatalf("records 0 and 2 should succeed: %+v", results)
	}
	if results[0].ID == "" || results[0].ID == results[2].ID {
		t.Fatalf("records with different content need distinct ids: %q vs %q", results[0].ID, results[2].ID)
	}
	if results[1].OK() || results[1].Error == "" {
		t.Fatalf("record 1 should fail: %+v", results[1])
	}
	var ve *ValidationError
	if !errors.As(results[1].Err, &ve) || ve.Index != 1 || ve.Field != "phoneNumber" {
		t.Fatalf("expected phoneNumber validation error for row 1, got %v", results[1].Err)
	}
	if !errors.Is(results[1].Err, ErrMissingField) {
		t.Fatalf("empty phone list should be a missing field, got %v", results[1].Err)
	}
	if e.count() != 2 {
		t.Fatalf("expected 2 posts, got %d", e.count())
	}
}

func TestPublishFailFastPublishesNothing(t *testing.T) {
	e := &endpoint{}
	c := newTestClient(t, e)

	records := []domain.CanonicalRecord{oxygenRecord(), oxygenRecord(), oxygenRecord()}
	records[2].PhoneNumber = []string{"12ab567890"}

	results, err := c.Publish(context.Background(), records)
	if err == nil {
		t.Fatal("expected error")
	}
	if results != nil {
		t.Fatalf("expected no results, got %+v", results)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Index != 2 || !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected invalid phone in row 2, got %v", err)
	}
	if !strings.Contains(err.Error(), "12ab567890") {
		t.Fatalf("error should name the number: %v", err)
	}
	if e.count() != 0 {
		t.Fatalf("nothing should be posted, got %d posts", e.count())
	}
}

func TestPublishMissingFieldNamesField(t *testing.T) {
	c := newTestClient(t, &endpoint{})

	r := oxygenRecord()
	r.Category = ""
	_, err := c.Publish(context.Background(), []domain.CanonicalRecord{r})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "category" || ve.Index != 0 {
		t.Fatalf("expected missing category in row 0, got %v", err)
	}
	if !strings.Contains(err.Error(), "category") {
		t.Fatalf("error should name the field: %v", err)
	}
}

func TestPublishRemoteError(t *testing.T) {
	e := &endpoint{status: http.StatusInternalServerError, body: "upstream exploded"}
	c := newTestClient(t, e)

	_, err := c.Publish(context.Background(), []domain.CanonicalRecord{oxygenRecord()})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.StatusCode != http.StatusInternalServerError || re.Body != "upstream exploded" {
		t.Fatalf("unexpected remote error %+v", re)
	}

	results, err := c.Publish(context.Background(), []domain.CanonicalRecord{oxygenRecord()}, WithRaiseOnError(false))
	if err != nil {
		t.Fatalf("collect mode should not error: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Error, "upstream exploded") {
		t.Fatalf("expected inline remote error, got %+v", results)
	}
}

func TestPublishCreatedAtPreference(t *testing.T) {
	tests := []struct {
		name       string
		modifiedOn any
		addedOn    any
		want       string
	}{
		{name: "modified wins", modifiedOn: "2021-05-02T00:00:00.000Z", addedOn: "01/05/2021", want: "2021-05-02T05:30:00+05:30"},
		{name: "added fallback", modifiedOn: "", addedOn: "01/05/2021", want: "2021-05-01T00:00:00+05:30"},
		{name: "null sentinel falls through", modifiedOn: "None", addedOn: "15-08-2021", want: "2021-08-15T00:00:00+05:30"},
		{name: "epoch", modifiedOn: json.Number("1620000000"), want: "2021-05-03T05:30:00+05:30"},
		{name: "now", want: "2021-05-01T05:30:00+05:30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &endpoint{}
			c := newTestClient(t, e)
			r := oxygenRecord()
			r.ModifiedOn, r.AddedOn = tt.modifiedOn, tt.addedOn

			if _, err := c.Publish(context.Background(), []domain.CanonicalRecord{r}); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			if got := e.received[0][0].CreatedAt; got != tt.want {
				t.Fatalf("CreatedAt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPublishUnparseableDate(t *testing.T) {
	e := &endpoint{}
	c := newTestClient(t, e)
	r := oxygenRecord()
	r.ModifiedOn = "definitely not a date"

	_, err := c.Publish(context.Background(), []domain.CanonicalRecord{r})
	if !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if e.count() != 0 {
		t.Fatal("nothing should be posted")
	}
}

func TestPublishIDIsStableAcrossRuns(t *testing.T) {
	c := newTestClient(t, &endpoint{})

	first, err := c.Publish(context.Background(), []domain.CanonicalRecord{oxygenRecord()})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r := oxygenRecord()
	r.ModifiedOn = "2022-01-01T00:00:00.000Z"
	second, err := c.Publish(context.Background(), []domain.CanonicalRecord{r})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if first[0].ID != second[0].ID {
		t.Fatalf("id changed between runs: %s vs %s", first[0].ID, second[0].ID)
	}
}

func TestPublishMirrorsSuccessfulAnnouncementsOnly(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("queue down")}
	c := newTestClient(t, &endpoint{}, WithMirror(mirror))

	records := []domain.CanonicalRecord{oxygenRecord(), oxygenRecord()}
	records[1].State = ""
	results, err := c.Publish(context.Background(), records, WithRaiseOnError(false))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !results[0].OK() {
		t.Fatalf("mirror failure must not change the result: %+v", results[0])
	}
	if len(mirror.events) != 1 {
		t.Fatalf("expected one mirrored event, got %d", len(mirror.events))
	}
	if mirror.events[0].RecordID != results[0].ID || mirror.events[0].Source != "Resources_API" {
		t.Fatalf("unexpected mirrored event %+v", mirror.events[0])
	}
}

func TestPublishStopsOnCancelledContext(t *testing.T) {
	e := &endpoint{}
	c := newTestClient(t, e)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Publish(ctx, []domain.CanonicalRecord{oxygenRecord()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if e.count() != 0 {
		t.Fatal("nothing should be posted after cancellation")
	}
}

func TestTextWithoutDistrict(t *testing.T) {
	r := domain.CanonicalRecord{Description: "Helpline", Category: "Helpline", State: "Goa", PhoneNumber: []string{"104"}}
	if got := Text(r); got != "Helpline. Helpline available. Call tel: 104, Location:Goa" {
		t.Fatalf("Text = %q", got)
	}
}

func TestCollapse(t *testing.T) {
	if one, many := Collapse(nil); one != nil || many != nil {
		t.Fatal("expected nil, nil for no results")
	}
	one, many := Collapse([]domain.PublishResult{{ID: "a"}})
	if one == nil || one.ID != "a" || many != nil {
		t.Fatalf("expected single result, got %v %v", one, many)
	}
	one, many = Collapse([]domain.PublishResult{{ID: "a"}, {ID: "b"}})
	if one != nil || len(many) != 2 {
		t.Fatalf("expected list, got %v %v", one, many)
	}
}

func TestNewRequiresURLAndSource(t *testing.T) {
	if _, err := New(Config{Source: "x"}); err == nil {
		t.Fatal("expected error without url")
	}
	if _, err := New(Config{URL: "http://example.com"}); err == nil {
		t.Fatal("expected error without source")
	}
}
