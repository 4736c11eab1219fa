package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
)

// TagSet is an unordered set of donor tags. Tags are trimmed and lowercased,
// and the set is kept sorted so its stored form does not depend on input order.
type TagSet []string

// NewTagSet builds a normalised set from raw tags.
func NewTagSet(tags ...string) TagSet {
	seen := make(map[string]struct{}, len(tags))
	out := make(TagSet, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// ParseTagSet splits a comma-joined tag string.
func ParseTagSet(s string) TagSet {
	if strings.TrimSpace(s) == "" {
		return TagSet{}
	}
	return NewTagSet(strings.Split(s, ",")...)
}

func (t TagSet) Union(other TagSet) TagSet {
	all := make([]string, 0, len(t)+len(other))
	all = append(all, t...)
	all = append(all, other...)
	return NewTagSet(all...)
}

func (t TagSet) Contains(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, existing := range t {
		if existing == tag {
			return true
		}
	}
	return false
}

func (t TagSet) String() string {
	return strings.Join(NewTagSet(t...), ",")
}

func (t TagSet) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *TagSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = TagSet{}
	case string:
		*t = ParseTagSet(v)
	case []byte:
		*t = ParseTagSet(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TagSet", src)
	}
	return nil
}

// GormDataType keeps the column a plain text column on every dialect.
func (TagSet) GormDataType() string {
	return "text"
}
