package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultLimit is the page size used when limit is omitted.
	DefaultLimit = 20
	// MaxLimit caps limit; larger values are clamped rather than rejected.
	MaxLimit = 100
	// MaxPage bounds page so (page-1)*limit stays well inside int64.
	MaxPage = 1_000_000
	// MaxSearchLength bounds the free-text search term in runes.
	MaxSearchLength = 100

	dayLayout = "2006-01-02"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ParseInt64 parses an optional integer. Empty input yields nil.
func ParseInt64(field, value string) (*int64, *ValidationError) {
	if value == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: "must be an integer"}
	}
	return &n, nil
}

// ParsePositiveInt parses an optional integer >= 1, returning def when empty.
func ParsePositiveInt(field, value string, def int) (int, *ValidationError) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return def, &ValidationError{Field: field, Message: "must be a positive integer"}
	}
	return n, nil
}

// ParseDay parses an optional YYYY-MM-DD calendar day as UTC midnight.
func ParseDay(field, value string) (*time.Time, *ValidationError) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dayLayout, value)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: "must be a date in YYYY-MM-DD format"}
	}
	return &t, nil
}

// ListParams are the raw query parameters of a listing request.
type ListParams struct {
	Status     string
	BranchCode string
	From       string
	To         string
	Search     string
	Order      string
	Page       string
	Limit      string
}

// ListFilter is the validated form of ListParams.
// To is the last microsecond of its calendar day so the bound is inclusive.
type ListFilter struct {
	Status     *int64
	BranchCode string
	From       *time.Time
	To         *time.Time
	Search     string
	Ascending  bool
	Page       int
	Limit      int
}

// ValidateListParams validates every parameter and reports all failures at once.
func ValidateListParams(p ListParams) (ListFilter, []ValidationError) {
	c := &Collector{}
	f := ListFilter{
		BranchCode: strings.TrimSpace(p.BranchCode),
		Search:     strings.TrimSpace(p.Search),
	}

	var err *ValidationError
	f.Status, err = ParseInt64("status", p.Status)
	c.Add(err)

	f.From, err = ParseDay("from", p.From)
	c.Add(err)
	f.To, err = ParseDay("to", p.To)
	c.Add(err)
	if f.To != nil {
		end := f.To.Add(24*time.Hour - time.Microsecond)
		f.To = &end
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		c.Add(&ValidationError{Field: "from", Message: "must not be after to"})
	}

	c.Add(ValidateUTF8("search", f.Search))
	c.Add(ValidateNoNullBytes("search", f.Search))
	c.Add(ValidateMaxLength("search", f.Search, MaxSearchLength))
	c.Add(ValidateNoNullBytes("branch_code", f.BranchCode))

	order := strings.ToLower(p.Order)
	if order != "" {
		c.Add(ValidateEnum("order", order, []string{"asc", "desc"}))
	}
	f.Ascending = order == "asc"

	f.Page, err = ParsePositiveInt("page", p.Page, 1)
	c.Add(err)
	if err == nil && f.Page > MaxPage {
		c.Add(&ValidationError{Field: "page", Message: fmt.Sprintf("must be at most %d", MaxPage)})
		f.Page = 1
	}
	f.Limit, err = ParsePositiveInt("limit", p.Limit, DefaultLimit)
	c.Add(err)
	f.Limit = min(f.Limit, MaxLimit)

	return f, c.Errors()
}
