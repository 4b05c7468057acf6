// Package filter implements the allow/block sentence-type policy (§4.2).
package filter

import "github.com/goblimey/nmea-bridge/sentence"

// Mode selects the filter's policy.
type Mode int

const (
	// AllowAll accepts every sentence.
	AllowAll Mode = iota
	// AllowList accepts only sentences whose full or bare type is in Allow.
	AllowList
	// BlockList rejects sentences whose full or bare type is in Block.
	BlockList
)

// Config is the immutable filter configuration (§3).
type Config struct {
	Mode  Mode
	Allow map[string]struct{}
	Block map[string]struct{}
}

// Filter is a stateless, thread-safe-by-construction policy evaluator.
type Filter struct {
	cfg Config
}

// New builds a Filter from cfg. A nil cfg behaves as AllowAll.
func New(cfg *Config) *Filter {
	if cfg == nil {
		return &Filter{cfg: Config{Mode: AllowAll}}
	}
	return &Filter{cfg: *cfg}
}

// Allowed reports whether s passes the filter's policy.
func (f *Filter) Allowed(s sentence.Sentence) bool {
	switch f.cfg.Mode {
	case AllowList:
		if len(f.cfg.Allow) == 0 {
			// An empty allow-set acts as "allow all" - saves users from
			// bricking their own output by misconfiguring an empty list.
			return true
		}
		return member(f.cfg.Allow, s)
	case BlockList:
		if len(f.cfg.Block) == 0 {
			return true
		}
		return !member(f.cfg.Block, s)
	default:
		return true
	}
}

func member(set map[string]struct{}, s sentence.Sentence) bool {
	if _, ok := set[s.FullType()]; ok {
		return true
	}
	_, ok := set[s.BareType()]
	return ok
}
