// Package permission evaluates whether an action on a resource is allowed
// by a declared grant set. Host pages consult it before invoking write
// operations; the grant set itself typically arrives on the embedding
// session config.
package permission

import (
	"strings"
	"sync"

	"github.com/annolab/framegate/pkg/logger"
)

const component = "permission"

// Grant allows one action on one resource. Both fields accept "*" for
// everything and a trailing "*" for a prefix match ("annotation:*").
type Grant struct {
	Action   string
	Resource string
}

// ParseGrant reads the "action:resource" form used by session configs.
// A bare action grants it on every resource.
func ParseGrant(s string) Grant {
	action, resource, found := strings.Cut(s, ":")
	if !found {
		resource = "*"
	}
	return Grant{Action: action, Resource: resource}
}

// Evaluator holds a grant set and a strictness mode.
//
// Strict mode denies anything no grant covers. Non-strict mode allows
// actions the grant set does not mention at all, on the theory that an
// integration which never declared an action did not mean to restrict it;
// once any grant names an action, its resource patterns become binding.
type Evaluator struct {
	mu     sync.RWMutex
	strict bool
	grants []Grant
}

// NewEvaluator creates an evaluator in the given mode.
func NewEvaluator(strict bool, grants ...Grant) *Evaluator {
	return &Evaluator{strict: strict, grants: grants}
}

// FromDeclarations builds an evaluator from "action:resource" strings.
func FromDeclarations(strict bool, declarations []string) *Evaluator {
	grants := make([]Grant, 0, len(declarations))
	for _, d := range declarations {
		if d == "" {
			continue
		}
		grants = append(grants, ParseGrant(d))
	}
	return NewEvaluator(strict, grants...)
}

// Grant adds one grant.
func (e *Evaluator) Grant(g Grant) {
	e.mu.Lock()
	e.grants = append(e.grants, g)
	e.mu.Unlock()
}

// Revoke removes every grant equal to g.
func (e *Evaluator) Revoke(g Grant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.grants[:0]
	for _, have := range e.grants {
		if have != g {
			kept = append(kept, have)
		}
	}
	e.grants = kept
}

// Strict reports the mode.
func (e *Evaluator) Strict() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strict
}

// Check reports whether action on resource is allowed. An empty resource
// checks the action alone, satisfied by any grant for it.
func (e *Evaluator) Check(action, resource string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	actionKnown := false
	for _, g := range e.grants {
		if !match(g.Action, action) {
			continue
		}
		actionKnown = true
		if resource == "" || match(g.Resource, resource) {
			return true
		}
	}

	if e.strict {
		logger.DebugCF(component, "denied", map[string]interface{}{
			"action": action, "resource": resource,
		})
		return false
	}
	// Non-strict: unmentioned actions pass, mismatched resources do not.
	return !actionKnown
}

// match applies the wildcard rules: "*", exact, or trailing-star prefix.
func match(pattern, value string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, pattern[:len(pattern)-1])
	}
	return false
}
