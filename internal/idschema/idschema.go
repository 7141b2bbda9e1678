// Package idschema defines the IdSchema capability used to generate and
// validate record ids (§6.5), and the default RFC-4122 UUID schema.
package idschema

import (
	"github.com/google/uuid"

	"github.com/untoldecay/syncbase/internal/record"
)

// Schema generates and validates ids for a collection. generate may
// inspect the record being created (e.g. to derive a deterministic id
// from one of its fields); the default schema ignores it.
type Schema interface {
	Generate(rec record.Record) string
	Validate(id string) bool
}

// Default is the RFC-4122 UUIDv4 schema new collections get unless a
// custom IdSchema is configured.
type Default struct{}

// Generate returns a new random UUIDv4 string.
func (Default) Generate(record.Record) string {
	return uuid.New().String()
}

// Validate reports whether id parses as a UUID of any RFC-4122 version.
func (Default) Validate(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

var _ Schema = Default{}
