package repl

import (
	"fmt"
	"strings"

	"personamux/internal/persona"
)

// cliName is the coordination binary the local shortcuts expand to.
const cliName = "personamux"

// aliases are coordination commands accepted bare, without the ">"
// shortcut or the full binary name. They always run locally; a typo
// here must never leak into an assistant prompt.
var aliases = map[string]string{
	"pmux-wait":       "wait",
	"pmux-status":     "status",
	"pmux-set-status": "set-status",
}

// SplitTokens splits a command line into argv, honoring single and
// double quotes. It is the small subset of shell splitting the local
// commands need.
func SplitTokens(line string) ([]string, error) {
	var tokens []string
	var current strings.Builder
	inToken := false
	var quote rune

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unclosed %c quote", quote)
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

// JoinTokens renders argv back into a display line, quoting tokens
// that contain whitespace.
func JoinTokens(tokens []string) string {
	parts := make([]string, len(tokens))
	for i, token := range tokens {
		if strings.ContainsAny(token, " \t") || token == "" {
			parts[i] = "'" + strings.ReplaceAll(token, "'", `'\''`) + "'"
		} else {
			parts[i] = token
		}
	}
	return strings.Join(parts, " ")
}

// TranslateShortcut expands a leading ">" line into a local argv:
//
//	>status              => personamux status
//	>set-status pm done  => personamux set-status pm done
//	>waitfor pm          => personamux wait pm --status idle
//
// It returns nil when the line is not a shortcut.
func TranslateShortcut(line string) ([]string, error) {
	raw := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(raw, ">") {
		return nil, nil
	}
	tail := strings.TrimSpace(raw[1:])
	if tail == "" {
		return []string{cliName}, nil
	}
	argv, err := SplitTokens(tail)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return []string{cliName}, nil
	}
	if argv[0] == "waitfor" || argv[0] == "wait-for" {
		target := ""
		rest := []string{}
		if len(argv) > 1 {
			target = argv[1]
			rest = argv[2:]
		}
		out := []string{cliName, "wait", target, "--status", "idle"}
		return append(out, rest...), nil
	}
	return append([]string{cliName}, argv...), nil
}

// TranslateAlias rewrites a bare coordination line (either the full
// binary name or a pmux-* alias) into a local argv, accepting the
// persona token anywhere for the persona-targeting commands. Returns
// nil for ordinary prompt lines.
func TranslateAlias(line string) ([]string, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed != cliName && !strings.HasPrefix(trimmed, cliName+" ") && !hasAliasPrefix(trimmed) {
		return nil, nil
	}
	argv, err := SplitTokens(trimmed)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, nil
	}
	if argv[0] == cliName {
		return argv, nil
	}
	subcmd, ok := aliases[argv[0]]
	if !ok {
		return nil, nil
	}
	rest := argv[1:]
	if subcmd == "wait" || subcmd == "set-status" {
		for i, token := range rest {
			if persona.Valid(persona.Key(token)) {
				reordered := append([]string{token}, append(append([]string{}, rest[:i]...), rest[i+1:]...)...)
				return append([]string{cliName, subcmd}, reordered...), nil
			}
		}
	}
	return append([]string{cliName, subcmd}, rest...), nil
}

func hasAliasPrefix(line string) bool {
	for name := range aliases {
		if line == name || strings.HasPrefix(line, name+" ") {
			return true
		}
	}
	return false
}

// SplitThen splits argv on "--" into the command and its chained
// follow-up tokens.
func SplitThen(argv []string) (head, then []string) {
	for i, token := range argv {
		if token == "--" {
			return argv[:i], argv[i+1:]
		}
	}
	return argv, nil
}
