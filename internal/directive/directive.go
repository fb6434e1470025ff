// Package directive parses the marker syntax that lets one input line
// address segments to other personas ({{agent:impl}} ...) and embed a
// persona's last response as inline context ({{ctx:pm}}, with
// {{last:pm}} as a legacy alias). The whole line is validated before
// anything acts on any part of it: a malformed marker anywhere rejects
// the line, so partial dispatch can never happen.
package directive

import (
	"fmt"
	"regexp"
	"strings"

	"personamux/internal/persona"
)

// Marker families.
const (
	MarkerAgent = "agent"
	MarkerCtx   = "ctx"
	MarkerLast  = "last"
)

type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenAgent
	TokenContext
)

// Token is one element of a tokenized input line.
type Token struct {
	Kind    TokenKind
	Text    string      // literal text, or the raw marker
	Persona persona.Key // set for agent and context tokens
}

// Segment is one directed portion of a line: text addressed to a
// single persona.
type Segment struct {
	Persona persona.Key
	Text    string
}

// ParseError names the malformed marker so the caller's diagnostic can
// point at it.
type ParseError struct {
	Marker  string
	Persona string
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Persona != "" {
		return fmt.Sprintf("unrecognized persona %q in %s marker", e.Persona, e.Marker)
	}
	return fmt.Sprintf("invalid %s marker syntax; %s", e.Marker, e.Reason)
}

var markerPattern = regexp.MustCompile(`^\{\{(agent|ctx|last)[:.]([A-Za-z0-9_-]+)\}\}`)

// Tokenize splits line into literal runs and validated marker tokens.
// A run starting with a known marker name that does not complete the
// marker shape is a hard error; unknown "{{...}}" text passes through
// as a literal.
func Tokenize(line string) ([]Token, error) {
	var tokens []Token
	rest := line
	for {
		index := nextMarkerStart(rest)
		if index < 0 {
			if rest != "" {
				tokens = append(tokens, Token{Kind: TokenLiteral, Text: rest})
			}
			return tokens, nil
		}
		if index > 0 {
			tokens = append(tokens, Token{Kind: TokenLiteral, Text: rest[:index]})
			rest = rest[index:]
		}

		match := markerPattern.FindStringSubmatch(rest)
		if match == nil {
			name := markerNameAt(rest)
			return nil, &ParseError{
				Marker: name,
				Reason: fmt.Sprintf("expected {{%s:persona}} or {{%s.persona}}", name, name),
			}
		}
		name, target := match[1], persona.Key(match[2])
		if !persona.Valid(target) {
			return nil, &ParseError{Marker: name, Persona: string(target)}
		}

		kind := TokenContext
		if name == MarkerAgent {
			kind = TokenAgent
		}
		tokens = append(tokens, Token{Kind: kind, Text: match[0], Persona: target})
		rest = rest[len(match[0]):]
	}
}

// nextMarkerStart finds the next "{{agent"/"{{ctx"/"{{last" run.
func nextMarkerStart(text string) int {
	best := -1
	for _, name := range []string{MarkerAgent, MarkerCtx, MarkerLast} {
		if index := strings.Index(text, "{{"+name); index >= 0 && (best < 0 || index < best) {
			best = index
		}
	}
	return best
}

func markerNameAt(text string) string {
	for _, name := range []string{MarkerAgent, MarkerCtx, MarkerLast} {
		if strings.HasPrefix(text, "{{"+name) {
			return name
		}
	}
	return "marker"
}

// Validate tokenizes the whole line and reports the first marker
// error, if any.
func Validate(line string) error {
	_, err := Tokenize(line)
	return err
}

// Parse splits line into the head segment (addressed to the issuing
// persona) and the ordered directed segments. Directed segments keep
// their embedded context markers; expansion happens at dispatch time
// on whichever side runs the segment.
func Parse(line string) (head string, segments []Segment, err error) {
	tokens, err := Tokenize(line)
	if err != nil {
		return "", nil, err
	}

	var headBuilder strings.Builder
	var current *Segment
	for _, token := range tokens {
		if token.Kind == TokenAgent {
			if current != nil {
				appendSegment(&segments, *current)
			}
			current = &Segment{Persona: token.Persona}
			continue
		}
		text := token.Text
		if current == nil {
			headBuilder.WriteString(text)
			continue
		}
		current.Text += text
	}
	if current != nil {
		appendSegment(&segments, *current)
	}
	return strings.TrimSpace(headBuilder.String()), segments, nil
}

func appendSegment(segments *[]Segment, segment Segment) {
	segment.Text = strings.TrimSpace(segment.Text)
	if segment.Text == "" {
		// An empty directed segment carries nothing to dispatch.
		return
	}
	*segments = append(*segments, segment)
}

// Dependencies returns the personas whose context text embeds via
// ctx/last markers. Invalid text yields an empty set; callers are
// expected to have validated already.
func Dependencies(text string) map[persona.Key]bool {
	tokens, err := Tokenize(text)
	if err != nil {
		return nil
	}
	deps := make(map[persona.Key]bool)
	for _, token := range tokens {
		if token.Kind == TokenContext {
			deps[token.Persona] = true
		}
	}
	if len(deps) == 0 {
		return nil
	}
	return deps
}

// ContextReader supplies a persona's bounded last-response body.
type ContextReader interface {
	ReadBounded(key persona.Key, maxChars int) string
}

// ExpandContext replaces every ctx/last marker in text with the named
// persona's last response, wrapped in begin/end fences and truncated
// to budget characters.
func ExpandContext(text string, reader ContextReader, budget int) (string, error) {
	tokens, err := Tokenize(text)
	if err != nil {
		return text, err
	}
	var builder strings.Builder
	for _, token := range tokens {
		switch token.Kind {
		case TokenContext:
			body := reader.ReadBounded(token.Persona, budget)
			fmt.Fprintf(&builder, "\n\n--- begin %s last response ---\n%s\n--- end %s last response ---\n\n",
				token.Persona, body, token.Persona)
		default:
			builder.WriteString(token.Text)
		}
	}
	return builder.String(), nil
}
