package codeanalysis

import (
	"regexp"
	"strings"
)

// Analyzer extracts names from cell source.
type Analyzer interface {
	// Variables returns names the code binds at module level, in first-seen order.
	Variables(code string) []string
	// Imports returns the modules the code imports, in first-seen order.
	Imports(code string) []string
}

var (
	identList     = `[A-Za-z_]\w*(?:\s*,\s*[A-Za-z_]\w*)*`
	assignRe      = regexp.MustCompile(`^\(?(` + identList + `)\)?\s*=[^=]`)
	annotatedRe   = regexp.MustCompile(`^([A-Za-z_]\w*)\s*:\s*[^=]+=[^=]`)
	defRe         = regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_]\w*)`)
	classRe       = regexp.MustCompile(`^class\s+([A-Za-z_]\w*)`)
	forRe         = regexp.MustCompile(`^(?:async\s+)?for\s+\(?(` + identList + `)\)?\s+in\b`)
	withAsRe      = regexp.MustCompile(`\bas\s+([A-Za-z_]\w*)\s*[,:)]`)
	importRe      = regexp.MustCompile(`^import\s+(.+)$`)
	fromImportRe  = regexp.MustCompile(`^from\s+(\.*[\w.]*)\s+import\b`)
	identSplitter = regexp.MustCompile(`\s*,\s*`)
)

var keywords = map[string]struct{}{
	"False": {}, "None": {}, "True": {}, "and": {}, "as": {}, "assert": {}, "async": {},
	"await": {}, "break": {}, "class": {}, "continue": {}, "def": {}, "del": {}, "elif": {},
	"else": {}, "except": {}, "finally": {}, "for": {}, "from": {}, "global": {}, "if": {},
	"import": {}, "in": {}, "is": {}, "lambda": {}, "nonlocal": {}, "not": {}, "or": {},
	"pass": {}, "raise": {}, "return": {}, "try": {}, "while": {}, "with": {}, "yield": {},
}

// Regex is the heuristic Analyzer.
type Regex struct{}

// NewRegex returns the heuristic analyzer.
func NewRegex() *Regex {
	return &Regex{}
}

var _ Analyzer = (*Regex)(nil)

// Variables implements Analyzer.
func (Regex) Variables(code string) []string {
	seen := newOrderedSet()
	bodyIndent := -1
	depth := 0

	for _, raw := range logicalLines(code) {
		indent, line := splitIndent(raw)
		if line == "" {
			continue
		}
		continuation := depth > 0
		depth += bracketDelta(line)
		if depth < 0 {
			depth = 0
		}
		if continuation {
			continue
		}
		if bodyIndent >= 0 {
			if indent > bodyIndent {
				continue
			}
			bodyIndent = -1
		}

		if m := defRe.FindStringSubmatch(line); m != nil {
			seen.add(m[1])
			bodyIndent = indent
			continue
		}
		if m := classRe.FindStringSubmatch(line); m != nil {
			seen.add(m[1])
			bodyIndent = indent
			continue
		}
		if m := forRe.FindStringSubmatch(line); m != nil {
			seen.addAll(identSplitter.Split(m[1], -1))
			continue
		}
		if strings.HasPrefix(line, "with ") || strings.HasPrefix(line, "async with ") {
			for _, m := range withAsRe.FindAllStringSubmatch(line, -1) {
				seen.add(m[1])
			}
			continue
		}
		if m := assignRe.FindStringSubmatch(line); m != nil {
			seen.addAll(identSplitter.Split(m[1], -1))
			continue
		}
		if m := annotatedRe.FindStringSubmatch(line); m != nil {
			seen.add(m[1])
		}
	}
	return seen.items
}

// Imports implements Analyzer.
func (Regex) Imports(code string) []string {
	seen := newOrderedSet()
	for _, raw := range logicalLines(code) {
		_, line := splitIndent(raw)
		if m := fromImportRe.FindStringSubmatch(line); m != nil {
			seen.add(m[1])
			continue
		}
		m := importRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		for _, part := range strings.Split(m[1], ",") {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				continue
			}
			seen.add(fields[0])
		}
	}
	return seen.items
}

var defaultAnalyzer Analyzer = Regex{}

// ExtractVariablesFromCode runs the heuristic Variables extraction.
func ExtractVariablesFromCode(code string) []string {
	return defaultAnalyzer.Variables(code)
}

// ExtractImportsFromCode runs the heuristic Imports extraction.
func ExtractImportsFromCode(code string) []string {
	return defaultAnalyzer.Imports(code)
}

// logicalLines splits source into lines with comments and shell/magic
// lines removed.
func logicalLines(code string) []string {
	lines := strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = stripComment(line)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "%") || strings.HasPrefix(trimmed, "!") {
			out = append(out, "")
			continue
		}
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return out
}

// stripComment drops a trailing # comment outside of string literals.
func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#':
			return line[:i]
		}
	}
	return line
}

// bracketDelta returns opened minus closed brackets outside string literals.
func bracketDelta(line string) int {
	var quote byte
	delta := 0
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			delta++
		case ')', ']', '}':
			delta--
		}
	}
	return delta
}

func splitIndent(line string) (int, string) {
	trimmed := strings.TrimLeft(line, " \t")
	indent := 0
	for _, r := range line[:len(line)-len(trimmed)] {
		if r == '\t' {
			indent += 4
		} else {
			indent++
		}
	}
	return indent, trimmed
}

type orderedSet struct {
	index map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]struct{}), items: []string{}}
}

func (s *orderedSet) add(name string) {
	name = strings.TrimSpace(name)
	if name == "" || name == "_" {
		return
	}
	if _, kw := keywords[name]; kw {
		return
	}
	if _, ok := s.index[name]; ok {
		return
	}
	s.index[name] = struct{}{}
	s.items = append(s.items, name)
}

func (s *orderedSet) addAll(names []string) {
	for _, n := range names {
		s.add(n)
	}
}
