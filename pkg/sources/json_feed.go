package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/samvad-hq/helpline-relay/internal/domain"
)

const defaultDataKey = "data"

// StatusError reports an upstream response other than 200 OK.
type StatusError struct {
	SourceID   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source %s returned status %d body: %s", e.SourceID, e.StatusCode, e.Body)
}

// jsonFeedFetcher downloads a JSON document and returns the objects under its
// data key ("data" by default). A json_array source, or data_key ".", reads a
// top-level array instead.
type jsonFeedFetcher struct {
	client HTTPClient
}

// NewJSONFeedFetcher builds a fetcher for JSON data feeds.
func NewJSONFeedFetcher(client HTTPClient) Fetcher {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &jsonFeedFetcher{client: client}
}

func (f *jsonFeedFetcher) ID() string {
	return TypeHelplineJSON
}

func (f *jsonFeedFetcher) Fetch(ctx context.Context, src Source) ([]domain.SourceRecord, error) {
	if strings.TrimSpace(src.SourceURL) == "" {
		return nil, fmt.Errorf("source %q source_url is empty", src.ID)
	}

	resp, err := f.client.Get(ctx, src.SourceURL, Headers(src))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.ID, err)
	}

	body := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return nil, &StatusError{SourceID: src.ID, StatusCode: resp.StatusCode(), Body: responseSnippet(body)}
	}

	dataKey := ConfigString(src, ConfigDataKey, defaultDataKey)
	if src.Type == TypeJSONArray {
		dataKey = "."
	}

	records, err := decodeRecords(body, dataKey)
	if err != nil {
		return nil, fmt.Errorf("decode %s feed: %w", src.ID, err)
	}
	return records, nil
}

// decodeRecords keeps numbers as json.Number so numeric phone fields survive
// without float formatting.
func decodeRecords(body []byte, dataKey string) ([]domain.SourceRecord, error) {
	if dataKey == "." {
		var records []domain.SourceRecord
		if err := newDecoder(body).Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var doc map[string]json.RawMessage
	if err := newDecoder(body).Decode(&doc); err != nil {
		return nil, err
	}
	raw, ok := doc[dataKey]
	if !ok {
		return nil, fmt.Errorf("document has no %q field", dataKey)
	}

	var records []domain.SourceRecord
	if err := newDecoder(raw).Decode(&records); err != nil {
		return nil, fmt.Errorf("field %q: %w", dataKey, err)
	}
	return records, nil
}

func newDecoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec
}

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
