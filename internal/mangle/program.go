package mangle

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"recongo/internal/search"

	"github.com/google/mangle/ast"
)

// BaseFragment receives every line that precedes the first #program directive
// of a source.
const BaseFragment = "base"

// ConflictPredicate marks a violated integrity constraint. A solve that
// derives any conflict fact is unsatisfiable.
const ConflictPredicate = "conflict"

var (
	programDirective  = regexp.MustCompile(`^#program\s+([a-z_][A-Za-z0-9_]*)\s*(?:\(([^)]*)\))?\s*\.\s*$`)
	externalDirective = regexp.MustCompile(`^#external\s+(.+?)\s*\.\s*$`)
	showDirective     = regexp.MustCompile(`^#show\s*(?:([a-z_][A-Za-z0-9_]*)\s*/\s*([0-9]+))?\s*\.\s*$`)
	paramName         = regexp.MustCompile(`^[a-z_][A-Za-z0-9_]*$`)
)

// Fragment is a named, parameterised block of program text.
type Fragment struct {
	Name   string
	Params []string

	text      strings.Builder
	externals []string
}

// Program is Mangle source split into fragments by #program directives.
type Program struct {
	fragments map[string]*Fragment
	order     []string
	shows     []ast.PredicateSym
	hideAll   bool
}

// NewProgram returns an empty program holding only the base fragment.
func NewProgram() *Program {
	p := &Program{fragments: make(map[string]*Fragment)}
	p.fragments[BaseFragment] = &Fragment{Name: BaseFragment}
	p.order = append(p.order, BaseFragment)
	return p
}

// SyntaxError locates a malformed directive.
type SyntaxError struct {
	Source string
	Line   int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Source, e.Line, e.Msg)
}

// Parse appends the contents of r, named source in errors, to the program.
// Each source starts in the base fragment.
func (p *Program) Parse(source string, r io.Reader) error {
	current := p.fragments[BaseFragment]
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)

		switch {
		case hasDirective(trimmed, "#program"):
			m := programDirective.FindStringSubmatch(trimmed)
			if m == nil {
				return &SyntaxError{Source: source, Line: line, Msg: "malformed #program directive"}
			}
			params, err := splitParams(m[2])
			if err != nil {
				return &SyntaxError{Source: source, Line: line, Msg: err.Error()}
			}
			frag, err := p.fragment(m[1], params)
			if err != nil {
				return &SyntaxError{Source: source, Line: line, Msg: err.Error()}
			}
			current = frag
			// keep line numbers of the fragment text aligned with the source
			current.text.WriteString("\n")
			continue

		case hasDirective(trimmed, "#external"):
			m := externalDirective.FindStringSubmatch(trimmed)
			if m == nil {
				return &SyntaxError{Source: source, Line: line, Msg: "malformed #external directive"}
			}
			current.externals = append(current.externals, m[1])
			current.text.WriteString("\n")
			continue

		case hasDirective(trimmed, "#show"):
			m := showDirective.FindStringSubmatch(trimmed)
			if m == nil {
				return &SyntaxError{Source: source, Line: line, Msg: "malformed #show directive"}
			}
			if m[1] == "" {
				p.hideAll = true
			} else {
				arity, _ := strconv.Atoi(m[2])
				p.shows = append(p.shows, ast.PredicateSym{Symbol: m[1], Arity: arity})
			}
			current.text.WriteString("\n")
			continue
		}

		current.text.WriteString(raw)
		current.text.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", source, err)
	}
	return nil
}

func hasDirective(line, name string) bool {
	if !strings.HasPrefix(line, name) {
		return false
	}
	rest := line[len(name):]
	return rest == "" || !isIdentChar(rest[0])
}

func splitParams(list string) ([]string, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var params []string
	seen := make(map[string]bool)
	for _, raw := range strings.Split(list, ",") {
		name := strings.TrimSpace(raw)
		if !paramName.MatchString(name) {
			return nil, fmt.Errorf("invalid parameter name %q", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate parameter %q", name)
		}
		seen[name] = true
		params = append(params, name)
	}
	return params, nil
}

// fragment returns the fragment called name, creating it on first use.
// Blocks sharing a name are concatenated and must agree on parameters.
func (p *Program) fragment(name string, params []string) (*Fragment, error) {
	if frag, ok := p.fragments[name]; ok {
		if !equalStrings(frag.Params, params) {
			return nil, fmt.Errorf("fragment %s redeclared with parameters (%s), previously (%s)",
				name, strings.Join(params, ", "), strings.Join(frag.Params, ", "))
		}
		return frag, nil
	}
	frag := &Fragment{Name: name, Params: params}
	p.fragments[name] = frag
	p.order = append(p.order, name)
	return frag, nil
}

// declareQuery makes the check fragment declare the query external over its
// step parameter, creating check(t) when the program has none.
func (p *Program) declareQuery() error {
	frag, ok := p.fragments[search.FragmentCheck]
	if !ok {
		frag, _ = p.fragment(search.FragmentCheck, []string{"t"})
	}
	if len(frag.Params) != 1 {
		return fmt.Errorf("fragment %s must take exactly one parameter, has (%s)",
			frag.Name, strings.Join(frag.Params, ", "))
	}
	atom := search.QueryExternal + "(" + frag.Params[0] + ")"
	for _, ext := range frag.externals {
		if strings.ReplaceAll(ext, " ", "") == atom {
			return nil
		}
	}
	frag.externals = append(frag.externals, atom)
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Fragment looks up a fragment by name.
func (p *Program) Fragment(name string) (*Fragment, bool) {
	f, ok := p.fragments[name]
	return f, ok
}

// Fragments lists fragments in declaration order.
func (p *Program) Fragments() []*Fragment {
	out := make([]*Fragment, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.fragments[name])
	}
	return out
}

// Shows returns the #show signatures, sorted.
func (p *Program) Shows() []ast.PredicateSym {
	out := append([]ast.PredicateSym(nil), p.shows...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Arity < out[j].Arity
	})
	return out
}

// Externals returns the raw #external declarations of the fragment.
func (f *Fragment) Externals() []string {
	return append([]string(nil), f.externals...)
}

// Instantiate binds the fragment parameters to values and returns the
// resulting Mangle text and external atom texts.
func (f *Fragment) Instantiate(values []int) (string, []string, error) {
	if len(values) != len(f.Params) {
		return "", nil, fmt.Errorf("fragment %s takes %d parameters, got %d", f.Name, len(f.Params), len(values))
	}
	bind := make(map[string]int, len(values))
	for i, name := range f.Params {
		bind[name] = values[i]
	}
	externals := make([]string, len(f.externals))
	for i, ext := range f.externals {
		externals[i] = substitute(ext, bind)
	}
	return substitute(f.text.String(), bind), externals, nil
}

// substitute replaces parameter identifiers with their values and folds a
// directly following "+k" or "-k". Comments, string literals, name constants
// and predicate or function symbols are left untouched.
func substitute(src string, bind map[string]int) string {
	if len(bind) == 0 {
		return src
	}
	var b strings.Builder
	b.Grow(len(src))

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '#':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src) - i
			}
			b.WriteString(src[i : i+end])
			i += end

		case c == '"' || c == '\'' || c == '`':
			end := skipString(src, i)
			b.WriteString(src[i:end])
			i = end

		case isDigit(c):
			j := i + 1
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			b.WriteString(src[i:j])
			i = j

		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			word := src[i:j]
			value, ok := bind[word]
			if !ok || (i > 0 && (src[i-1] == '/' || src[i-1] == ':')) || followedByParen(src, j) {
				b.WriteString(word)
				i = j
				continue
			}
			if k, end, ok := offset(src, j); ok {
				value += k
				j = end
			}
			b.WriteString(strconv.Itoa(value))
			i = j

		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// skipString returns the index just past the string literal starting at i.
func skipString(src string, i int) int {
	quote := src[i]
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		}
	}
	return len(src)
}

func followedByParen(src string, j int) bool {
	for j < len(src) && (src[j] == ' ' || src[j] == '\t') {
		j++
	}
	return j < len(src) && src[j] == '('
}

// offset parses " + 12" or "-3" starting at j.
func offset(src string, j int) (int, int, bool) {
	k := skipBlanks(src, j)
	if k >= len(src) || (src[k] != '+' && src[k] != '-') {
		return 0, j, false
	}
	sign := 1
	if src[k] == '-' {
		sign = -1
	}
	k = skipBlanks(src, k+1)
	start := k
	for k < len(src) && isDigit(src[k]) {
		k++
	}
	if k == start || (k < len(src) && isIdentChar(src[k])) {
		return 0, j, false
	}
	n, err := strconv.Atoi(src[start:k])
	if err != nil {
		return 0, j, false
	}
	return sign * n, k, true
}

func skipBlanks(src string, j int) int {
	for j < len(src) && (src[j] == ' ' || src[j] == '\t') {
		j++
	}
	return j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isIdentChar(c byte) bool { return isIdentStart(c) || isDigit(c) }
