// Package ingest maps upstream helpline records onto the canonical record
// shape consumed by the announce client.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samvad-hq/helpline-relay/internal/domain"
	"github.com/samvad-hq/helpline-relay/internal/logger"
	"github.com/samvad-hq/helpline-relay/pkg/phone"
)

// Source field names of the helpline feed.
const (
	fieldState          = "state"
	fieldDistrict       = "district"
	fieldCategory       = "category"
	fieldPhone1         = "phone_1"
	fieldPhone2         = "phone_2"
	fieldCreatedOn      = "created_on"
	fieldLastVerifiedOn = "last_verified_on"
	fieldTitle          = "title"
	fieldDescription    = "description"
	fieldDescriptionAlt = "Description"
)

// Normalizer converts SourceRecords into CanonicalRecords.
type Normalizer struct {
	defaultCategory string
	log             logger.Logger
}

// New returns a Normalizer that labels uncategorized records with
// defaultCategory.
func New(defaultCategory string, log logger.Logger) *Normalizer {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Normalizer{defaultCategory: strings.TrimSpace(defaultCategory), log: log}
}

// Normalize maps one record. The second result is false when the record lacks
// a state, a phone number or a date and must be skipped.
func (n *Normalizer) Normalize(rec domain.SourceRecord) (domain.CanonicalRecord, bool) {
	state := text(rec, fieldState)
	if state == "" {
		return domain.CanonicalRecord{}, false
	}

	phone1, phone2 := text(rec, fieldPhone1), text(rec, fieldPhone2)
	if phone1 == "" && phone2 == "" {
		return domain.CanonicalRecord{}, false
	}
	createdOn, verifiedOn := text(rec, fieldCreatedOn), text(rec, fieldLastVerifiedOn)
	if createdOn == "" && verifiedOn == "" {
		return domain.CanonicalRecord{}, false
	}

	category := text(rec, fieldCategory)
	if category == "" {
		category = n.defaultCategory
	}

	// phone_2 replaces phone_1 when both are present.
	rawPhones := phone1
	if phone2 != "" {
		rawPhones = phone2
	}

	out := domain.CanonicalRecord{
		Description: n.description(rec, category),
		Category:    category,
		State:       state,
		District:    text(rec, fieldDistrict),
		PhoneNumber: phone.Split(rawPhones),
	}
	if createdOn != "" {
		out.AddedOn = rec[fieldCreatedOn]
	}
	if verifiedOn != "" {
		out.ModifiedOn = rec[fieldLastVerifiedOn]
	}
	return out, true
}

// NormalizeAll maps records in order, dropping the ones Normalize rejects.
func (n *Normalizer) NormalizeAll(records []domain.SourceRecord) []domain.CanonicalRecord {
	out := make([]domain.CanonicalRecord, 0, len(records))
	for i, rec := range records {
		c, ok := n.Normalize(rec)
		if !ok {
			n.log.DebugObj("skipping incomplete source record", "skipped_record", map[string]any{
				"index": i,
				"state": text(rec, fieldState),
			})
			continue
		}
		out = append(out, c)
	}
	return out
}

func (n *Normalizer) description(rec domain.SourceRecord, category string) string {
	var b strings.Builder
	if t := text(rec, fieldTitle); t != "" {
		b.WriteString("Title: ")
		b.WriteString(t)
		b.WriteString(" ")
	}
	for _, key := range []string{fieldDescription, fieldDescriptionAlt} {
		if d := text(rec, key); d != "" {
			b.WriteString("Description: ")
			b.WriteString(d)
		}
	}

	desc := stripHTML(b.String())
	if desc == "" {
		return category
	}
	return desc
}

// stripHTML drops markup and collapses whitespace. Plain text passes through
// untouched apart from whitespace.
func stripHTML(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// text returns the field as trimmed text; numbers are rendered without
// exponent so numeric phone fields survive.
func text(rec domain.SourceRecord, key string) string {
	switch v := rec[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
