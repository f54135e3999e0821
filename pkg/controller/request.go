package controller

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/downfa11-org/kvs/pkg/types"
)

// Request is one parsed command line.
type Request struct {
	Op    string
	Key   string
	Value string
}

var arity = map[string]int{
	"SET":     2,
	"GET":     1,
	"RM":      1,
	"COMPACT": 0,
	"STATS":   0,
	"PING":    0,
	"HELP":    0,
}

var aliases = map[string]string{
	"REMOVE": "RM",
	"DEL":    "RM",
}

// ParseRequest splits a line into a command and its arguments. Arguments
// may be double-quoted Go string literals to carry spaces, escapes or the
// empty string.
func ParseRequest(line string) (Request, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return Request{}, err
	}
	if len(tokens) == 0 {
		return Request{}, fmt.Errorf("%w: empty command", types.ErrInvalidCommand)
	}

	op := strings.ToUpper(tokens[0])
	if a, ok := aliases[op]; ok {
		op = a
	}
	n, ok := arity[op]
	if !ok {
		return Request{}, fmt.Errorf("%w: unknown command %q", types.ErrInvalidCommand, tokens[0])
	}
	args := tokens[1:]
	if len(args) != n {
		return Request{}, fmt.Errorf("%w: %s expects %d argument(s), got %d", types.ErrInvalidCommand, op, n, len(args))
	}

	req := Request{Op: op}
	if n >= 1 {
		req.Key = args[0]
	}
	if n == 2 {
		req.Value = args[1]
	}
	return req, nil
}

func tokenize(line string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(line) {
		switch c := line[i]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '"':
			end := i + 1
			for end < len(line) && line[end] != '"' {
				if line[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(line) {
				return nil, fmt.Errorf("%w: unterminated quote", types.ErrInvalidCommand)
			}
			s, err := strconv.Unquote(line[i : end+1])
			if err != nil {
				return nil, fmt.Errorf("%w: bad quoted argument %s", types.ErrInvalidCommand, line[i:end+1])
			}
			tokens = append(tokens, s)
			i = end + 1
		default:
			end := i
			for end < len(line) && !strings.ContainsRune(" \t\r\n", rune(line[end])) {
				end++
			}
			tokens = append(tokens, line[i:end])
			i = end
		}
	}
	return tokens, nil
}

// Quote renders an argument so that ParseRequest reads it back unchanged.
func Quote(arg string) string {
	if arg == "" || strings.ContainsAny(arg, " \t\r\n\"\\") {
		return strconv.Quote(arg)
	}
	return arg
}
