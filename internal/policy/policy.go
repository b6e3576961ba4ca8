// Package policy holds the granted permission set that gates task approval.
package policy

import "sort"

// Policy is the authorization source of truth for a goal run. It is not
// safe for concurrent use; grants are applied by the goroutine that ticks.
type Policy struct {
	grants map[string]bool
}

func New(grants ...string) *Policy {
	p := &Policy{grants: make(map[string]bool, len(grants))}
	for _, g := range grants {
		p.Grant(g)
	}
	return p
}

// Allowed reports whether every requirement is granted. An empty requirement
// list is always allowed.
func (p *Policy) Allowed(reqs []string) bool {
	for _, r := range reqs {
		if !p.grants[r] {
			return false
		}
	}
	return true
}

// Missing returns the requirements not covered by the grant set, sorted and
// de-duplicated.
func (p *Policy) Missing(reqs []string) []string {
	var missing []string
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		if p.grants[r] || seen[r] {
			continue
		}
		seen[r] = true
		missing = append(missing, r)
	}
	sort.Strings(missing)
	return missing
}

// Grant adds perm to the grant set. Granting twice is a no-op; empty
// identifiers are ignored.
func (p *Policy) Grant(perm string) {
	if perm == "" {
		return
	}
	p.grants[perm] = true
}

// Has reports whether perm is granted.
func (p *Policy) Has(perm string) bool {
	return p.grants[perm]
}

// Grants returns a sorted snapshot of the grant set.
func (p *Policy) Grants() []string {
	out := make([]string, 0, len(p.grants))
	for g := range p.grants {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
