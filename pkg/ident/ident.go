// Package ident derives stable identifiers from record content.
package ident

import (
	"strings"

	"github.com/google/uuid"
)

// Derive concatenates parts without a separator and returns the version 3
// UUID of the result in the DNS namespace. Order matters.
func Derive(parts ...string) string {
	return uuid.NewMD5(uuid.NameSpaceDNS, []byte(strings.Join(parts, ""))).String()
}

// ForRecord derives the dedup key of a helpline record. The argument order is
// fixed: description, category, state, then the phone numbers joined by ",".
func ForRecord(description, category, state string, phones []string) string {
	return Derive(description, category, state, strings.Join(phones, ","))
}
