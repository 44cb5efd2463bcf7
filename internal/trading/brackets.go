package trading

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed brackets.yml
var bracketsYAML []byte

// Bracket is one maintenance-margin tier. NotionalCap 0 means unbounded.
type Bracket struct {
	NotionalFloor    float64 `yaml:"notional_floor" json:"notional_floor"`
	NotionalCap      float64 `yaml:"notional_cap" json:"notional_cap"`
	MaxLeverage      int     `yaml:"max_leverage" json:"max_leverage"`
	MaintMarginRatio float64 `yaml:"maint_margin_ratio" json:"maint_margin_ratio"`
	MaintAmount      float64 `yaml:"maint_amount" json:"maint_amount"`
}

// Contains reports whether notional falls in [floor, cap).
func (b Bracket) Contains(notional float64) bool {
	return notional >= b.NotionalFloor && (b.NotionalCap == 0 || notional < b.NotionalCap)
}

// BracketTable maps symbols to their brackets, with a fallback table.
type BracketTable struct {
	Default []Bracket            `yaml:"default"`
	Symbols map[string][]Bracket `yaml:"symbols"`
}

// ParseBrackets decodes and validates a bracket table.
func ParseBrackets(data []byte) (*BracketTable, error) {
	var table BracketTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse brackets: %w", err)
	}
	if len(table.Default) == 0 {
		return nil, fmt.Errorf("parse brackets: default table is empty")
	}
	if err := validateBrackets("default", table.Default); err != nil {
		return nil, err
	}
	for symbol, brackets := range table.Symbols {
		if err := validateBrackets(symbol, brackets); err != nil {
			return nil, err
		}
	}
	return &table, nil
}

func validateBrackets(name string, brackets []Bracket) error {
	sort.Slice(brackets, func(i, j int) bool { return brackets[i].NotionalFloor < brackets[j].NotionalFloor })
	for i, b := range brackets {
		if b.MaxLeverage < 1 || b.MaintMarginRatio <= 0 || b.MaintMarginRatio >= 1 {
			return fmt.Errorf("brackets %s[%d]: invalid leverage or ratio", name, i)
		}
		if i > 0 && brackets[i-1].NotionalCap != b.NotionalFloor {
			return fmt.Errorf("brackets %s[%d]: gap at notional %v", name, i, b.NotionalFloor)
		}
		if b.NotionalCap == 0 && i != len(brackets)-1 {
			return fmt.Errorf("brackets %s[%d]: only the last bracket may be unbounded", name, i)
		}
	}
	if brackets[0].NotionalFloor != 0 {
		return fmt.Errorf("brackets %s: first bracket must start at 0", name)
	}
	return nil
}

var defaultBrackets = sync.OnceValue(func() *BracketTable {
	table, err := ParseBrackets(bracketsYAML)
	if err != nil {
		panic(err)
	}
	return table
})

// DefaultBrackets returns the embedded table. Callers must not modify it.
func DefaultBrackets() *BracketTable {
	return defaultBrackets()
}

// For returns the brackets for symbol, falling back to the default table.
func (t *BracketTable) For(symbol string) []Bracket {
	if b, ok := t.Symbols[strings.ToUpper(symbol)]; ok {
		return b
	}
	return t.Default
}

// Find returns the bracket covering notional.
func (t *BracketTable) Find(symbol string, notional float64) Bracket {
	brackets := t.For(symbol)
	for _, b := range brackets {
		if b.Contains(notional) {
			return b
		}
	}
	return brackets[len(brackets)-1]
}

// MaxLeverageFor returns the highest leverage allowed for a position of
// the given notional.
func (t *BracketTable) MaxLeverageFor(symbol string, notional float64) int {
	return t.Find(symbol, notional).MaxLeverage
}
