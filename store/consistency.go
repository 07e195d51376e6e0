package store

import (
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ConsistencyConfig configures simulated eventually consistent reads.
type ConsistencyConfig struct {
	// Enabled turns the simulator on. Without it every read is consistent.
	Enabled bool

	// DelayReads is the number of reads after a write that still observe
	// the value from before the write. Zero leaves only the NotFoundReads
	// window.
	// Default: 1 in DefaultConfig, 0 in a zero Config
	DelayReads int

	// NotFoundReads is the number of reads after a write that observe no
	// item at all. They are served before the DelayReads window.
	// Default: 0
	NotFoundReads int

	// Rules select the keys the simulator applies to.
	Rules []Rule
}

// Rule matches writes by table and key. Empty PK, PKPattern and SK match
// anything. PKPattern is a regular expression matched at the start of the
// partition key.
type Rule struct {
	Table     string
	PK        string
	PKPattern string
	SK        string

	// DelayReads and NotFoundReads override the config values when positive.
	DelayReads    int
	NotFoundReads int
}

func (c *ConsistencyConfig) validate() {
	if c.DelayReads < 0 {
		c.DelayReads = 0
	}
	if c.NotFoundReads < 0 {
		c.NotFoundReads = 0
	}
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// simulator decides which writes open a stale window. The per-key windows
// themselves live in the owning table, under its lock.
type simulator struct {
	enabled  bool
	delay    int
	notFound int
	rules    []compiledRule
}

func newSimulator(cfg ConsistencyConfig) (*simulator, error) {
	sim := &simulator{
		enabled:  cfg.Enabled,
		delay:    cfg.DelayReads,
		notFound: cfg.NotFoundReads,
	}
	for _, r := range cfg.Rules {
		cr := compiledRule{Rule: r}
		if r.PKPattern != "" {
			re, err := regexp.Compile("^(?:" + r.PKPattern + ")")
			if err != nil {
				return nil, fmt.Errorf("consistency rule for table %s: %w", r.Table, err)
			}
			cr.re = re
		}
		sim.rules = append(sim.rules, cr)
	}
	return sim, nil
}

// window returns the stale window a write to the given key opens, or
// ok=false when no rule matches.
func (s *simulator) window(table string, hash, rng types.AttributeValue) (notFound, delay int, ok bool) {
	if s == nil || !s.enabled {
		return 0, 0, false
	}
	pk, sk := keyText(hash), keyText(rng)
	for _, r := range s.rules {
		if r.Table != "" && r.Table != table {
			continue
		}
		if r.PK != "" && r.PK != pk {
			continue
		}
		if r.re != nil && !r.re.MatchString(pk) {
			continue
		}
		if r.SK != "" && r.SK != sk {
			continue
		}
		notFound, delay = s.notFound, s.delay
		if r.NotFoundReads > 0 {
			notFound = r.NotFoundReads
		}
		if r.DelayReads > 0 {
			delay = r.DelayReads
		}
		return notFound, delay, notFound+delay > 0
	}
	return 0, 0, false
}

// keyText renders a key attribute the way rules spell it.
func keyText(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return base64.StdEncoding.EncodeToString(v.Value)
	}
	return ""
}

// staleState is the Stale state of one key. snapshot is what stale reads
// return; nil stands for "no item".
type staleState struct {
	notFound int
	stale    int
	snapshot *record

	// key attributes, for listing keys that no longer hold an item
	hash types.AttributeValue
	rng  types.AttributeValue
}

// answer returns what the next read observes, given the current record.
func (st *staleState) answer(current *record) *record {
	switch {
	case st.notFound > 0:
		return nil
	case st.stale > 0:
		return st.snapshot
	}
	return current
}

// consume uses up one read and reports whether the key has converged.
func (st *staleState) consume() bool {
	switch {
	case st.notFound > 0:
		st.notFound--
	case st.stale > 0:
		st.stale--
	}
	return st.notFound == 0 && st.stale == 0
}
