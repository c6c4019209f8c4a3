// Package ident generates document identifiers and URL slugs.
package ident

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns prefix followed by a base-36 millisecond timestamp and a
// short random suffix, e.g. "news_m1x2k9qz-3f9a1c07".
//
// IDs are very likely unique within one process but carry no global
// guarantee. They are meant for deployments with a single writer process.
func NewID(prefix string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return prefix + ts + "-" + suffix
}

var (
	spaceRun  = regexp.MustCompile(`[\s_]+`)
	invalid   = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRun = regexp.MustCompile(`-{2,}`)
)

// Slugify derives a lowercase, hyphenated, URL-safe slug from text.
// Slugify(Slugify(s)) == Slugify(s) for every s.
func Slugify(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = spaceRun.ReplaceAllString(s, "-")
	s = invalid.ReplaceAllString(s, "")
	s = hyphenRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
