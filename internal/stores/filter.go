package stores

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultOrder sorts newest first.
const DefaultOrder = "created_at desc"

var fieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Filter narrows a list query. Field names are the snake_case column / JSON names.
type Filter struct {
	Where  map[string]any
	Before map[string]time.Time
	Region string
	// Viewer personalises computed fields such as viewer_liked.
	Viewer  string
	Limit   int
	Offset  int
	OrderBy string
}

// Order returns the sort field and direction, applying the default.
func (f Filter) Order() (string, bool, error) {
	order := strings.TrimSpace(f.OrderBy)
	if order == "" {
		order = DefaultOrder
	}
	parts := strings.Fields(strings.ToLower(order))
	if len(parts) == 0 || len(parts) > 2 || !fieldPattern.MatchString(parts[0]) {
		return "", false, fmt.Errorf("%w: order %q", ErrInvalidFilter, f.OrderBy)
	}
	desc := false
	if len(parts) == 2 {
		switch parts[1] {
		case "asc":
		case "desc":
			desc = true
		default:
			return "", false, fmt.Errorf("%w: order %q", ErrInvalidFilter, f.OrderBy)
		}
	}
	return parts[0], desc, nil
}

// Validate rejects unsafe field names and negative paging.
func (f Filter) Validate() error {
	for field := range f.Where {
		if !fieldPattern.MatchString(field) {
			return fmt.Errorf("%w: field %q", ErrInvalidFilter, field)
		}
	}
	for field := range f.Before {
		if !fieldPattern.MatchString(field) {
			return fmt.Errorf("%w: field %q", ErrInvalidFilter, field)
		}
	}
	if f.Limit < 0 || f.Offset < 0 {
		return fmt.Errorf("%w: negative paging", ErrInvalidFilter)
	}
	_, _, err := f.Order()
	return err
}

// CacheToken is a stable digest of every filter parameter, used in list cache keys.
func (f Filter) CacheToken() string {
	field, desc, _ := f.Order()
	canonical := struct {
		Where  [][2]string `json:"w"`
		Before [][2]string `json:"b"`
		Region string      `json:"r"`
		Viewer string      `json:"v"`
		Limit  int         `json:"l"`
		Offset int         `json:"o"`
		Order  string      `json:"s"`
		Desc   bool        `json:"d"`
	}{
		Where:  sortedPairs(f.Where),
		Region: f.Region,
		Viewer: f.Viewer,
		Limit:  f.Limit,
		Offset: f.Offset,
		Order:  field,
		Desc:   desc,
	}
	for key, value := range f.Before {
		canonical.Before = append(canonical.Before, [2]string{key, value.UTC().Format(time.RFC3339Nano)})
	}
	sort.Slice(canonical.Before, func(i, j int) bool { return canonical.Before[i][0] < canonical.Before[j][0] })

	payload, _ := json.Marshal(canonical)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:12])
}

func sortedPairs(values map[string]any) [][2]string {
	pairs := make([][2]string, 0, len(values))
	for key, value := range values {
		pairs = append(pairs, [2]string{key, fmt.Sprintf("%T=%v", value, value)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs
}

// ValidField reports whether name is a safe column / document field name.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}
