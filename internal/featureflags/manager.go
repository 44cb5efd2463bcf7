// Package featureflags gates optional sections such as the trading room.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

type ruleKind int

const (
	ruleOff ruleKind = iota
	ruleOn
	rulePercent
	ruleMembers
	ruleUsers
)

type rule struct {
	raw   string
	kind  ruleKind
	pct   int
	users map[uint]bool
}

// Manager evaluates flags from a comma-separated list of name=value pairs.
//
//	trading_room=on          everyone, anonymous visitors included
//	trading_room=off         nobody
//	trading_room=25%         deterministic share of signed-in members
//	trading_room=members     every signed-in member
//	trading_room=users:1|7   only the listed member IDs
//
// Unknown values evaluate to off.
type Manager struct {
	rules map[string]rule
}

// NewManager parses raw. Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	rules := make(map[string]rule)
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name, value = normalize(name), normalize(value)
		if name == "" || value == "" {
			continue
		}
		rules[name] = parseRule(value)
	}
	return &Manager{rules: rules}
}

func parseRule(value string) rule {
	r := rule{raw: value}
	switch {
	case value == "on" || value == "true" || value == "1":
		r.kind = ruleOn
	case value == "members":
		r.kind = ruleMembers
	case strings.HasSuffix(value, "%"):
		pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
		if err != nil {
			return r
		}
		r.kind, r.pct = rulePercent, pct
	case strings.HasPrefix(value, "users:"):
		r.users = make(map[uint]bool)
		for _, id := range strings.Split(strings.TrimPrefix(value, "users:"), "|") {
			n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
			if err == nil && n > 0 {
				r.users[uint(n)] = true
			}
		}
		r.kind = ruleUsers
	}
	return r
}

// Enabled reports whether name is on for userID. userID 0 is an anonymous
// visitor and only passes "on" flags.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}
	r, ok := m.rules[normalize(name)]
	if !ok {
		return false
	}

	switch r.kind {
	case ruleOn:
		return true
	case ruleMembers:
		return userID != 0
	case ruleUsers:
		return r.users[userID]
	case rulePercent:
		if r.pct <= 0 || userID == 0 {
			return false
		}
		return r.pct >= 100 || rolloutBucket(name, userID) < r.pct
	}
	return false
}

// Raw returns the configured values keyed by flag name.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.rules))
	for name, r := range m.rules {
		out[name] = r.raw
	}
	return out
}

// Names lists the configured flags in sorted order.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.rules))
	for name := range m.rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Snapshot evaluates every configured flag for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.rules))
	for name := range m.rules {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", normalize(name), userID)
	return int(h.Sum32() % 100)
}
