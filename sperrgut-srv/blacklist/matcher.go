// Package blacklist decides whether a target host is blocked. An entry blocks
// every host that contains it anywhere, so "facebook.com" blocks both
// "sub.facebook.com" and "notfacebook.com".
package blacklist

import (
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
)

// Matcher holds one Aho-Corasick trie over all entries. It is immutable after
// construction and safe for concurrent use.
type Matcher struct {
	entries []string
	trie    *ahocorasick.Trie
}

// New builds a matcher from domain substrings. Entries are lowercased and
// trimmed; empty entries are dropped.
func New(entries []string) *Matcher {
	cleaned := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			cleaned = append(cleaned, entry)
		}
	}

	m := &Matcher{entries: cleaned}
	if len(cleaned) > 0 {
		m.trie = ahocorasick.NewTrieBuilder().AddStrings(cleaned).Build()
	}
	return m
}

// IsBlocked reports whether any entry occurs in the lowercased host.
func (m *Matcher) IsBlocked(host string) bool {
	_, blocked := m.Match(host)
	return blocked
}

// Match returns the earliest listed entry contained in host.
func (m *Matcher) Match(host string) (string, bool) {
	if m == nil || m.trie == nil || host == "" {
		return "", false
	}

	matches := m.trie.MatchString(strings.ToLower(host))
	if len(matches) == 0 {
		return "", false
	}

	first := matches[0].Pattern()
	for _, match := range matches[1:] {
		if match.Pattern() < first {
			first = match.Pattern()
		}
	}
	return m.entries[first], true
}

// Len returns the number of entries.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns a copy of the normalized entries in load order.
func (m *Matcher) Entries() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.entries...)
}
