package models

import (
	"encoding/json"
	"sort"
)

// TagSet is a set of student tags. The zero value is an empty set ready to use.
type TagSet map[string]struct{}

// NewTagSet returns a set holding the given tags; duplicates collapse.
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether tag is a member.
func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Add inserts tag and reports whether it was absent before.
func (s *TagSet) Add(tag string) bool {
	if *s == nil {
		*s = make(TagSet)
	}
	if s.Has(tag) {
		return false
	}
	(*s)[tag] = struct{}{}
	return true
}

// Remove deletes tag and reports whether it was present.
func (s TagSet) Remove(tag string) bool {
	if !s.Has(tag) {
		return false
	}
	delete(s, tag)
	return true
}

// Toggle flips membership of tag and reports whether it is a member afterwards.
func (s *TagSet) Toggle(tag string) bool {
	if s.Remove(tag) {
		return false
	}
	s.Add(tag)
	return true
}

// Len returns the number of members.
func (s TagSet) Len() int { return len(s) }

// Slice returns the members in sorted order.
func (s TagSet) Slice() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s TagSet) Clone() TagSet {
	return NewTagSet(s.Slice()...)
}

// MarshalJSON encodes the set as a sorted array.
func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array of tags.
func (s *TagSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*s = NewTagSet(tags...)
	return nil
}
