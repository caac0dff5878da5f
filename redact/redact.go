// Package redact scrubs direct identifiers from raw user text before any
// model or store sees it. Redaction is pattern-based and deliberately
// conservative: emails, phone numbers and SSNs are replaced with typed
// placeholders, while location signals such as zip codes pass through
// untouched because downstream matching depends on them.
package redact

import (
	"context"
	"fmt"
	"regexp"

	"github.com/counselmesh/counselmesh/core"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	// Phone numbers need at least ten digits with familiar separators so a
	// bare five-digit zip never matches.
	phonePattern = regexp.MustCompile(`(\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
)

// Pattern order matters: SSNs would otherwise be half-eaten by the phone
// pattern.
var patterns = []struct {
	entityType string
	re         *regexp.Regexp
}{
	{"email", emailPattern},
	{"ssn", ssnPattern},
	{"phone", phonePattern},
}

// Redactor implements core.Redactor with compiled patterns. The zero
// value is not usable; call New.
type Redactor struct{}

// New creates a pattern Redactor.
func New() *Redactor { return &Redactor{} }

// Redact implements core.Redactor. Each match is replaced by an indexed
// placeholder like [phone-1]; the returned entities record the mapping in
// scan order.
func (r *Redactor) Redact(ctx context.Context, text string) (string, []core.Entity, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	var entities []core.Entity
	redacted := text
	for _, p := range patterns {
		count := 0
		redacted = p.re.ReplaceAllStringFunc(redacted, func(string) string {
			count++
			placeholder := fmt.Sprintf("[%s-%d]", p.entityType, count)
			entities = append(entities, core.Entity{Type: p.entityType, Replacement: placeholder})
			return placeholder
		})
	}
	return redacted, entities, nil
}
