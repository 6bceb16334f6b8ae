// Package query implements the planner that turns a {project, datasets,
// query, filters} request into a fan-out vector search across every
// dataset a project may read, grounded on the spec's glob/alias
// predicate DSL (§9's design note) over dataset names.
package query

import (
	"strings"

	"github.com/gobwas/glob"
)

// Predicate matches a dataset by name. Dataset pattern resolution
// never touches the network or the database; it only filters a
// caller-supplied list of (id, name) pairs already loaded from
// internal/scope.
type Predicate interface {
	Match(name string) bool
}

type exactPredicate string

func (p exactPredicate) Match(name string) bool { return string(p) == name }

// Exact matches a dataset name verbatim.
func Exact(name string) Predicate {
	return exactPredicate(name)
}

type globPredicate struct {
	g glob.Glob
}

func (p globPredicate) Match(name string) bool { return p.g.Match(name) }

// Glob matches dataset names against a `*`/`?` glob pattern.
func Glob(pattern string) (Predicate, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	return globPredicate{g: g}, nil
}

type anyPredicate struct{}

func (anyPredicate) Match(string) bool { return true }

// Any matches every dataset name, used for the `*` and `undefined`
// selectors.
func Any() Predicate {
	return anyPredicate{}
}

type unionPredicate []Predicate

func (u unionPredicate) Match(name string) bool {
	for _, p := range u {
		if p.Match(name) {
			return true
		}
	}
	return false
}

// Union matches a dataset name if any of preds does.
func Union(preds ...Predicate) Predicate {
	return unionPredicate(preds)
}

type aliasPredicate struct {
	alternatives []string
}

func (p aliasPredicate) Match(name string) bool {
	for _, alt := range p.alternatives {
		switch {
		case name == alt:
			return true
		case strings.HasPrefix(name, alt+"-"):
			return true
		case strings.HasSuffix(name, "-"+alt):
			return true
		}
	}
	return false
}

// Alias builds a predicate for one of the spec's semantic alias
// selectors (`env:dev|prod`, `src:code|docs`, `ver:latest|stable`,
// `branch:main`): a dataset matches when its name equals, or is
// hyphen-joined with, one of the alternatives after the colon. The
// alias kind itself (`env`, `src`, `ver`, `branch`) is documentation
// only — the match is purely against the alternatives, since dataset
// names carry no separate "kind" field to cross-check against.
func Alias(kind string, alternatives ...string) Predicate {
	return aliasPredicate{alternatives: alternatives}
}

// ParsePattern parses one dataset selector token from the request's
// `datasets` field into a Predicate: `*` or empty for Any, a
// recognized `kind:alt1|alt2` alias, a glob containing `*`/`?`, or an
// exact name otherwise.
func ParsePattern(token string) (Predicate, error) {
	if token == "" || token == "*" {
		return Any(), nil
	}

	if kind, rest, ok := strings.Cut(token, ":"); ok && isAliasKind(kind) {
		alternatives := strings.Split(rest, "|")
		return Alias(kind, alternatives...), nil
	}

	if strings.ContainsAny(token, "*?") {
		return Glob(token)
	}

	return Exact(token), nil
}

func isAliasKind(kind string) bool {
	switch kind {
	case "env", "src", "ver", "branch":
		return true
	default:
		return false
	}
}

// ResolvePatterns parses every token in patterns and unions them into
// a single Predicate. An empty patterns list resolves to Any, matching
// the spec's `undefined → all accessible datasets` rule. Tokens that
// fail to parse (an invalid glob) are dropped and returned separately
// so the caller can log them, per the spec's "log and drop invalid
// names" instruction.
func ResolvePatterns(patterns []string) (Predicate, []string) {
	if len(patterns) == 0 {
		return Any(), nil
	}

	var preds []Predicate
	var invalid []string
	for _, token := range patterns {
		p, err := ParsePattern(token)
		if err != nil {
			invalid = append(invalid, token)
			continue
		}
		preds = append(preds, p)
	}
	if len(preds) == 0 {
		return unionPredicate(nil), invalid
	}
	return Union(preds...), invalid
}
