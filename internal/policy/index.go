package policy

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"regexp/syntax"
	"slices"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidPattern marks a record excluded from an index because its
	// pattern cannot be matched safely.
	ErrInvalidPattern = errors.New("policy: invalid pattern")
	// ErrIndexTooLarge is returned by Build when the input exceeds MaxRecords.
	ErrIndexTooLarge = errors.New("policy: index too large")
)

// BuildOptions bounds what Build accepts. Zero fields fall back to the
// defaults from DefaultBuildOptions.
type BuildOptions struct {
	MaxPatternLength int
	MaxProgramSize   int
	MaxRecords       int
}

// DefaultBuildOptions returns the limits applied when none are configured.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		MaxPatternLength: 1024,
		MaxProgramSize:   4096,
		MaxRecords:       100_000,
	}
}

func (o BuildOptions) withDefaults() BuildOptions {
	def := DefaultBuildOptions()
	if o.MaxPatternLength <= 0 {
		o.MaxPatternLength = def.MaxPatternLength
	}
	if o.MaxProgramSize <= 0 {
		o.MaxProgramSize = def.MaxProgramSize
	}
	if o.MaxRecords <= 0 {
		o.MaxRecords = def.MaxRecords
	}
	return o
}

// Skip describes a record Build left out of the index.
type Skip struct {
	Pattern  string `json:"pattern"`
	Position int    `json:"position"`
	Err      error  `json:"-"`
}

// Reason renders the skip cause for logs and health output.
func (s Skip) Reason() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

type entry[P any] struct {
	record  Record[P]
	literal string
	length  int
	re      *regexp.Regexp
}

// Index is an immutable, specificity-ordered policy table. Longer patterns
// are tried first; equal lengths keep their input order.
type Index[P any] struct {
	entries []entry[P]
}

// Build compiles records into a new Index. Records whose pattern is blank,
// too long, not a valid regular expression, or compiles to an oversized
// program are skipped and reported; the rest are indexed.
func Build[P any](records []Record[P], opts BuildOptions) (*Index[P], []Skip, error) {
	opts = opts.withDefaults()
	if len(records) > opts.MaxRecords {
		return nil, nil, fmt.Errorf("%w: %d records exceeds limit %d", ErrIndexTooLarge, len(records), opts.MaxRecords)
	}

	entries := make([]entry[P], 0, len(records))
	var skipped []Skip
	for pos, rec := range records {
		e, err := compileEntry(rec, opts)
		if err != nil {
			skipped = append(skipped, Skip{Pattern: rec.Pattern, Position: pos, Err: err})
			continue
		}
		entries = append(entries, e)
	}

	slices.SortStableFunc(entries, func(a, b entry[P]) int {
		return cmp.Compare(b.length, a.length)
	})
	return &Index[P]{entries: entries}, skipped, nil
}

func compileEntry[P any](rec Record[P], opts BuildOptions) (entry[P], error) {
	if strings.TrimSpace(rec.Pattern) == "" {
		return entry[P]{}, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	length := utf8.RuneCountInString(rec.Pattern)
	if length > opts.MaxPatternLength {
		return entry[P]{}, fmt.Errorf("%w: length %d exceeds limit %d", ErrInvalidPattern, length, opts.MaxPatternLength)
	}

	// The pattern must parse on its own before it is wrapped, otherwise an
	// unbalanced ")" would close the group and escape the anchors.
	if _, err := syntax.Parse(rec.Pattern, syntax.Perl); err != nil {
		return entry[P]{}, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	// Full-string, case-insensitive match against the lower-cased request URI.
	expr := "(?i)^(?:" + rec.Pattern + ")$"
	parsed, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return entry[P]{}, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	prog, err := syntax.Compile(parsed.Simplify())
	if err != nil {
		return entry[P]{}, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	if size := len(prog.Inst); size > opts.MaxProgramSize {
		return entry[P]{}, fmt.Errorf("%w: program size %d exceeds limit %d", ErrInvalidPattern, size, opts.MaxProgramSize)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return entry[P]{}, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	return entry[P]{
		record:  rec,
		literal: strings.ToLower(rec.Pattern),
		length:  length,
		re:      re,
	}, nil
}

// Match returns the first record, in index order, whose pattern equals the
// lower-cased uri or fully matches it as a regular expression.
func (x *Index[P]) Match(uri string) (Record[P], bool) {
	if x == nil {
		var zero Record[P]
		return zero, false
	}
	lowered := strings.ToLower(uri)
	for i := range x.entries {
		e := &x.entries[i]
		if lowered == e.literal || e.re.MatchString(lowered) {
			return e.record, true
		}
	}
	var zero Record[P]
	return zero, false
}

// Len reports the number of indexed records.
func (x *Index[P]) Len() int {
	if x == nil {
		return 0
	}
	return len(x.entries)
}

// Records returns the indexed records in match order.
func (x *Index[P]) Records() []Record[P] {
	if x == nil {
		return nil
	}
	out := make([]Record[P], len(x.entries))
	for i := range x.entries {
		out[i] = x.entries[i].record
	}
	return out
}

var _ Matcher[CircuitBreaker] = (*Index[CircuitBreaker])(nil)
