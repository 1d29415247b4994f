// Package depexpr parses ebuild dependency strings (DEPEND, RDEPEND) into a
// nested expression sequence.
//
// The grammar is whitespace separated tokens:
//
//	atom            leaf constraint, e.g. ">=dev-libs/foo-1.2"
//	!atom, !!atom   blocker leaf
//	( ... )         group; plain groups are flattened into their parent
//	|| ( ... )      any-of: an AnyOf marker followed by a Group node
//	flag? ( ... )   USE conditional, kept when flag is enabled
//	!flag? ( ... )  USE conditional, kept when flag is disabled
//
// Conditionals are resolved at parse time, so the output only contains atoms,
// any-of markers and any-of groups.
package depexpr

import (
	"iter"
	"slices"
	"strings"

	"github.com/matzehuels/portkeeper/pkg/errors"
)

// Kind tells the node variants apart.
type Kind int

const (
	// Atom is a leaf constraint (possibly a blocker).
	Atom Kind = iota
	// AnyOf marks that the following Group is a disjunction.
	AnyOf
	// Group is a nested expression list.
	Group
)

func (k Kind) String() string {
	switch k {
	case Atom:
		return "atom"
	case AnyOf:
		return "||"
	case Group:
		return "group"
	}
	return "unknown"
}

// Node is one element of a parsed dependency expression.
type Node struct {
	Kind     Kind
	Value    string // leaf text for Atom nodes
	Children []Node // for Group nodes
}

// IsBlocker reports whether n is a blocker leaf ("!atom" or "!!atom").
func (n Node) IsBlocker() bool {
	return n.Kind == Atom && strings.HasPrefix(n.Value, "!")
}

// Options controls how USE conditionals are resolved.
type Options struct {
	// MatchAll keeps every conditional group regardless of flags.
	MatchAll bool
	// Use lists the enabled USE flags.
	Use []string
}

// Parse parses a dependency string. Several strings (DEPEND and RDEPEND) can
// be parsed at once by joining them with a space.
func Parse(s string, opts Options) ([]Node, error) {
	p := parser{tokens: strings.Fields(s), opts: opts}
	nodes, err := p.list(0)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse dependency string")
	}
	return nodes, nil
}

type parser struct {
	tokens []string
	pos    int
	opts   Options
}

func (p *parser) list(depth int) ([]Node, error) {
	var out []Node
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		p.pos++
		switch {
		case tok == ")":
			if depth == 0 {
				return nil, errors.New(errors.ErrCodeInvalidInput, "unexpected ')' at token %d", p.pos)
			}
			return out, nil

		case tok == "(":
			children, err := p.list(depth + 1)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)

		case tok == "||":
			children, err := p.group(depth, tok)
			if err != nil {
				return nil, err
			}
			out = append(out, Node{Kind: AnyOf}, Node{Kind: Group, Children: children})

		case strings.HasSuffix(tok, "?"):
			children, err := p.group(depth, tok)
			if err != nil {
				return nil, err
			}
			if p.enabled(strings.TrimSuffix(tok, "?")) {
				out = append(out, children...)
			}

		default:
			out = append(out, Node{Kind: Atom, Value: tok})
		}
	}
	if depth > 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "missing ')'")
	}
	return out, nil
}

// group parses the parenthesised group that must follow an operator token.
func (p *parser) group(depth int, op string) ([]Node, error) {
	if p.pos >= len(p.tokens) || p.tokens[p.pos] != "(" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%q must be followed by '('", op)
	}
	p.pos++
	return p.list(depth + 1)
}

func (p *parser) enabled(flag string) bool {
	if p.opts.MatchAll {
		return true
	}
	neg := strings.HasPrefix(flag, "!")
	flag = strings.TrimPrefix(flag, "!")
	return slices.Contains(p.opts.Use, flag) != neg
}

// Atoms yields every leaf atom in nodes depth-first, blockers included.
func Atoms(nodes []Node) iter.Seq[string] {
	return func(yield func(string) bool) {
		walk(nodes, yield)
	}
}

func walk(nodes []Node, yield func(string) bool) bool {
	for _, n := range nodes {
		switch n.Kind {
		case Atom:
			if !yield(n.Value) {
				return false
			}
		case Group:
			if !walk(n.Children, yield) {
				return false
			}
		}
	}
	return true
}
