package sqlx

import (
	"fmt"
	"regexp"
	"strings"
)

var namedParamNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

type tokenKind int

const (
	tokLiteral tokenKind = iota
	tokPositional
	tokNamed
)

type token struct {
	kind tokenKind
	text string // literal text, or the name for tokNamed
	pos  int    // declared positional index for tokPositional
}

// tokenize scans template respecting quoted regions and the `::`
// cast operator, per spec §4.A's placeholder lexing rules.
func tokenize(template string) []token {
	var tokens []token
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, token{kind: tokLiteral, text: lit.String()})
			lit.Reset()
		}
	}

	runes := []rune(template)
	n := len(runes)
	var quote rune // 0 when not inside a quoted region
	posCount := 0

	for i := 0; i < n; {
		c := runes[i]

		if quote != 0 {
			lit.WriteRune(c)
			if c == quote {
				// Doubled quote char is an escaped literal quote, not
				// the end of the region.
				if i+1 < n && runes[i+1] == quote {
					lit.WriteRune(runes[i+1])
					i += 2
					continue
				}
				quote = 0
			}
			i++
			continue
		}

		switch c {
		case '\'', '"', '`':
			quote = c
			lit.WriteRune(c)
			i++
		case '?':
			flushLit()
			tokens = append(tokens, token{kind: tokPositional, pos: posCount})
			posCount++
			i++
		case ':':
			if i+1 < n && runes[i+1] == ':' {
				// "::" cast operator: both colons are inert.
				lit.WriteString("::")
				i += 2
				continue
			}
			if i+1 < n && isIdentStart(runes[i+1]) {
				j := i + 1
				for j < n && isIdentCont(runes[j]) {
					j++
				}
				flushLit()
				tokens = append(tokens, token{kind: tokNamed, text: string(runes[i+1 : j])})
				i = j
				continue
			}
			lit.WriteRune(c)
			i++
		default:
			lit.WriteRune(c)
			i++
		}
	}
	flushLit()
	return tokens
}

func isIdentStart(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func isIdentCont(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9') || r == '_'
}

// RenderMode selects the output shape of Statement.Render.
type RenderMode int

const (
	// RenderNative produces a dialect-native SQL string with
	// placeholder markers ($1, $2, ... or ?) and an ordered value
	// slice, for passing straight to a RawDriver.
	RenderNative RenderMode = iota
	// RenderLiteral produces a single self-contained SQL string with
	// every placeholder substituted by its encoded literal.
	RenderLiteral
)

// Native is the result of rendering a Statement in RenderNative mode.
type Native struct {
	SQL    string
	Values []any
}

// Statement is a mutable, reusable SQL template builder. Construct one
// with NewStatement, bind values with Bind/BindNamed, and render it as
// many times as needed — rendering is side-effect-free.
type Statement struct {
	template string
	tokens   []token
	declPos  int            // count of distinct positional occurrences in template
	declName map[string]bool // names that appear in template

	positional map[int]any
	named      map[string]any
	registry   *ValueEncoderRegistry

	err error // sticky first error from Bind/BindNamed
}

// NewStatement parses template once, discovering its positional and
// named placeholders, and returns a ready-to-bind Statement.
func NewStatement(template string) *Statement {
	toks := tokenize(template)
	declName := make(map[string]bool)
	declPos := 0
	for _, t := range toks {
		switch t.kind {
		case tokPositional:
			declPos++
		case tokNamed:
			declName[t.text] = true
		}
	}
	return &Statement{
		template:   template,
		tokens:     toks,
		declPos:    declPos,
		declName:   declName,
		positional: make(map[int]any),
		named:      make(map[string]any),
		registry:   NewValueEncoderRegistry(),
	}
}

// WithEncoders attaches a ValueEncoderRegistry used to resolve
// non-primitive bound values during rendering.
func (s *Statement) WithEncoders(r *ValueEncoderRegistry) *Statement {
	if r != nil {
		s.registry = r
	}
	return s
}

// Bind sets the value for the index-th (zero-based) positional `?`
// occurrence in the template. Rebinding the same index overwrites.
func (s *Statement) Bind(index int, value any) *Statement {
	if s.err == nil && (index < 0 || index >= s.declPos) {
		s.err = fmt.Errorf("%w: index %d (statement declares %d positional placeholders)",
			ErrPositionalParameterOutOfBounds, index, s.declPos)
		return s
	}
	s.positional[index] = value
	return s
}

// BindNamed sets the value for a `:name` placeholder. name must match
// [A-Za-z][A-Za-z0-9_]*. All occurrences of the same name resolve to
// this one value.
func (s *Statement) BindNamed(name string, value any) *Statement {
	if s.err == nil && !namedParamNameRE.MatchString(name) {
		s.err = fmt.Errorf("%w: invalid name %q", ErrNamedParameterNotFound, name)
		return s
	}
	if s.err == nil && !s.declName[name] {
		s.err = fmt.Errorf("%w: %q", ErrNamedParameterNotFound, name)
		return s
	}
	s.named[name] = value
	return s
}

// resolve runs v through the registry until a primitive is reached.
func (s *Statement) resolve(v any) (any, error) {
	return s.registry.resolve(v)
}

// expand returns the resolved item list for a bound value: a
// single-element slice for scalars, or the full expansion for
// collections/Tuple, along with the TupleMode to render it with.
func (s *Statement) expand(raw any) (items []any, mode TupleMode, isCollection bool, err error) {
	if elems, m, ok := asCollection(raw); ok {
		resolved := make([]any, len(elems))
		for i, el := range elems {
			resolved[i], err = s.resolve(el)
			if err != nil {
				return nil, 0, false, err
			}
		}
		return resolved, m, true, nil
	}
	one, err := s.resolve(raw)
	if err != nil {
		return nil, 0, false, err
	}
	return []any{one}, TupleWrapped, false, nil
}

// Render produces SQL for dialect in the given mode. RenderNative
// returns dialect-native placeholder markers and an ordered value
// slice in Native.Values; RenderLiteral returns a single
// self-contained SQL string with every placeholder substituted by its
// encoded literal, and Native.Values is empty. Safe to call
// repeatedly; Render never mutates the Statement.
func (s *Statement) Render(dialect Dialect, mode RenderMode) (*Native, error) {
	if mode == RenderLiteral {
		sql, err := s.renderLiteral(dialect)
		if err != nil {
			return nil, err
		}
		return &Native{SQL: sql}, nil
	}
	return s.renderNative(dialect)
}

func (s *Statement) renderNative(dialect Dialect) (*Native, error) {
	if s.err != nil {
		return nil, s.err
	}

	var sb strings.Builder
	var values []any
	nativeN := 1

	for _, t := range s.tokens {
		switch t.kind {
		case tokLiteral:
			sb.WriteString(t.text)

		case tokPositional:
			raw, ok := s.positional[t.pos]
			if !ok {
				return nil, fmt.Errorf("%w: index %d", ErrPositionalParameterValueNotSupplied, t.pos)
			}
			items, mode, isColl, err := s.expand(raw)
			if err != nil {
				return nil, newRenderError(fmt.Sprintf("?%d", t.pos), err)
			}
			writeSlots(&sb, &values, &nativeN, dialect, items, mode, isColl)

		case tokNamed:
			raw, ok := s.named[t.text]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrNamedParameterValueNotSupplied, t.text)
			}
			items, mode, isColl, err := s.expand(raw)
			if err != nil {
				return nil, newRenderError(":"+t.text, err)
			}
			writeSlots(&sb, &values, &nativeN, dialect, items, mode, isColl)
		}
	}

	return &Native{SQL: sb.String(), Values: values}, nil
}

func writeSlots(sb *strings.Builder, values *[]any, nativeN *int, dialect Dialect, items []any, mode TupleMode, isCollection bool) {
	if !isCollection {
		sb.WriteString(dialect.placeholder(*nativeN))
		*nativeN++
		*values = append(*values, items[0])
		return
	}

	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = dialect.placeholder(*nativeN)
		*nativeN++
		*values = append(*values, it)
	}
	joined := strings.Join(parts, ", ")
	if mode == TupleWrapped {
		sb.WriteString("(")
		sb.WriteString(joined)
		sb.WriteString(")")
		return
	}
	sb.WriteString(joined)
}

// renderLiteral produces a single SQL string with every placeholder
// substituted by its encoded literal — no native parameters. Intended
// for SQL the library itself constructs (migrator DDL, pgmq identifier
// interpolation), never for caller-supplied user data.
func (s *Statement) renderLiteral(dialect Dialect) (string, error) {
	if s.err != nil {
		return "", s.err
	}

	var sb strings.Builder
	for _, t := range s.tokens {
		switch t.kind {
		case tokLiteral:
			sb.WriteString(t.text)

		case tokPositional:
			raw, ok := s.positional[t.pos]
			if !ok {
				return "", fmt.Errorf("%w: index %d", ErrPositionalParameterValueNotSupplied, t.pos)
			}
			if err := writeLiteralSlot(&sb, s, raw, dialect, fmt.Sprintf("?%d", t.pos)); err != nil {
				return "", err
			}

		case tokNamed:
			raw, ok := s.named[t.text]
			if !ok {
				return "", fmt.Errorf("%w: %q", ErrNamedParameterValueNotSupplied, t.text)
			}
			if err := writeLiteralSlot(&sb, s, raw, dialect, ":"+t.text); err != nil {
				return "", err
			}
		}
	}
	return sb.String(), nil
}

func writeLiteralSlot(sb *strings.Builder, s *Statement, raw any, dialect Dialect, placeholder string) error {
	items, mode, isCollection, err := s.expand(raw)
	if err != nil {
		return newRenderError(placeholder, err)
	}

	if !isCollection {
		lit, err := encodeLiteral(items[0], dialect)
		if err != nil {
			return newRenderError(placeholder, err)
		}
		sb.WriteString(lit)
		return nil
	}

	parts := make([]string, len(items))
	for i, it := range items {
		if mode == TupleNoQuoting {
			parts[i] = fmt.Sprint(it)
			continue
		}
		lit, err := encodeLiteral(it, dialect)
		if err != nil {
			return newRenderError(placeholder, err)
		}
		parts[i] = lit
	}
	joined := strings.Join(parts, ", ")
	if mode == TupleWrapped {
		sb.WriteString("(")
		sb.WriteString(joined)
		sb.WriteString(")")
		return nil
	}
	sb.WriteString(joined)
	return nil
}
