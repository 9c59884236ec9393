package batch

import (
	"fmt"
	"strings"
)

// State is where a single station is in its fetch.
//
//	Pending -> Fetching -> Success
//	                    -> EmptyRetry -> Fetching
//	                    -> ErrorRetry -> Fetching
//	                    -> Exhausted
//	Pending -> Failed (unknown station, never retried)
type State int

const (
	Pending State = iota
	Fetching
	EmptyRetry
	ErrorRetry
	Success
	Exhausted
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	case EmptyRetry:
		return "empty-retry"
	case ErrorRetry:
		return "error-retry"
	case Success:
		return "success"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal states end a station's fetch.
func (s State) Terminal() bool {
	return s == Success || s == Exhausted || s == Failed
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for state := Pending; state <= Failed; state++ {
		if state.String() == s {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", s)
}

// Dedupe trims and upper-cases codes, drops blanks and keeps the first
// occurrence of every code in order.
func Dedupe(codes []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

// SplitCodes splits free-form operator input (commas, whitespace, newlines)
// into codes.
func SplitCodes(input string) []string {
	return strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}
