package stores

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SelectDocuments applies a filter to JSON documents held by key-value stores and returns the
// matching documents in filter order. Computed, viewer-specific fields are not evaluated.
func SelectDocuments(docs [][]byte, filter Filter) ([][]byte, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	field, desc, err := filter.Order()
	if err != nil {
		return nil, err
	}

	type candidate struct {
		raw    []byte
		fields map[string]any
	}
	matched := make([]candidate, 0, len(docs))
	for _, raw := range docs {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		if !matchDocument(fields, filter) {
			continue
		}
		matched = append(matched, candidate{raw: raw, fields: fields})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		cmp := compareValues(matched[i].fields[field], matched[j].fields[field])
		if cmp == 0 {
			cmp = compareValues(matched[i].fields["id"], matched[j].fields["id"])
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})

	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	out := make([][]byte, 0, end-start)
	for _, c := range matched[start:end] {
		out = append(out, c.raw)
	}
	return out, nil
}

// DecodeDocuments unmarshals documents into dest, a pointer to a slice.
func DecodeDocuments(docs [][]byte, dest any) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, doc := range docs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(doc)
	}
	buf.WriteByte(']')
	return json.Unmarshal(buf.Bytes(), dest)
}

func matchDocument(fields map[string]any, filter Filter) bool {
	for key, want := range filter.Where {
		got, ok := fields[key]
		if !ok || !equalValues(got, want) {
			return false
		}
	}
	if filter.Region != "" {
		if region, _ := fields["region"].(string); region != filter.Region {
			return false
		}
	}
	for key, before := range filter.Before {
		ts, ok := parseTime(fields[key])
		if !ok || !ts.Before(before) {
			return false
		}
	}
	return true
}

func equalValues(got, want any) bool {
	if want == nil {
		return got == nil
	}
	if t, ok := want.(time.Time); ok {
		ts, parsed := parseTime(got)
		return parsed && ts.Equal(t)
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func compareValues(a, b any) int {
	if ta, ok := parseTime(a); ok {
		if tb, ok := parseTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func parseTime(value any) (time.Time, bool) {
	s, ok := value.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
