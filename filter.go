package nostr

import "encoding/json"

// Filter is a single conjunctive predicate over event fields, as in
// NIP-01: every non-empty field must match for the filter to match.
type Filter struct {
	IDs     []string            `json:"ids,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"-"`
	Since   *int64              `json:"since,omitempty"`
	Until   *int64              `json:"until,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
	Search  string              `json:"search,omitempty"`
}

// MarshalJSON renders tag filters as "#<name>" keys per NIP-01, since
// the Tags field itself is tagged json:"-" and so is skipped by the
// default encoding (a struct tag can't map one field to many keys).
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, 8)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	if f.Search != "" {
		m["search"] = f.Search
	}
	for tagName, values := range f.Tags {
		m["#"+tagName] = values
	}
	return json.Marshal(m)
}

// Filters is a disjunction: matches(event) iff any member Filter
// matches, mirroring §4.6's "conjunctive match over each filter, with
// each filter matched independently" — independent across the list,
// conjunctive within one filter.
type Filters []Filter

func containsAny(haystack, needles []string) bool {
	if len(needles) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(haystack))
	for _, h := range haystack {
		set[h] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

func containsInt(haystack []int, needle int) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// Match reports whether f matches event.
func (f Filter) Match(event *Event) bool {
	if event == nil {
		return false
	}
	if len(f.IDs) > 0 && !containsAny(f.IDs, []string{event.ID}) {
		return false
	}
	if len(f.Authors) > 0 && !containsAny(f.Authors, []string{event.PubKey}) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, event.Kind) {
		return false
	}
	if f.Since != nil && event.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && event.CreatedAt > *f.Until {
		return false
	}
	for tagName, values := range f.Tags {
		matched := false
		for _, tag := range event.Tags {
			if len(tag) >= 2 && tag[0] == tagName && containsAny(tag[1:], values) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Match reports whether any filter in fs matches event.
func (fs Filters) Match(event *Event) bool {
	for _, f := range fs {
		if f.Match(event) {
			return true
		}
	}
	return false
}
