package terminal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Op is a runner command.
type Op int

const (
	OpAnswer Op = iota + 1
	OpNext
	OpPrev
	OpRefresh
	OpSubmit
	OpLeave
	OpHelp
)

// Command is one parsed input line.
type Command struct {
	Op       Op
	Question int // order number shown on screen
	Option   int // 0-based option index
}

var errUsage = errors.New("usage: a <question#> <option>, n, p, r, s, q, ?")

const helpText = `  a <question#> <option>  answer, e.g. "a 3 B"
  n / p                   next / previous page
  r                       refresh the current page
  s                       submit
  q                       leave (submits what you answered)
`

// ParseCommand parses an input line. Options may be given as a letter (A, b)
// or a 1-based number.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errUsage
	}

	switch strings.ToLower(fields[0]) {
	case "a", "answer":
		if len(fields) != 3 {
			return Command{}, errUsage
		}
		q, err := strconv.Atoi(fields[1])
		if err != nil || q < 1 {
			return Command{}, fmt.Errorf("invalid question number %q", fields[1])
		}
		opt, err := parseOption(fields[2])
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpAnswer, Question: q, Option: opt}, nil
	case "n", "next":
		return Command{Op: OpNext}, nil
	case "p", "prev":
		return Command{Op: OpPrev}, nil
	case "r", "refresh":
		return Command{Op: OpRefresh}, nil
	case "s", "submit":
		return Command{Op: OpSubmit}, nil
	case "q", "quit":
		return Command{Op: OpLeave}, nil
	case "?", "h", "help":
		return Command{Op: OpHelp}, nil
	}
	return Command{}, errUsage
}

func parseOption(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("invalid option %q", s)
		}
		return n - 1, nil
	}
	if len(s) == 1 {
		c := strings.ToUpper(s)[0]
		if c >= 'A' && c <= 'Z' {
			return int(c - 'A'), nil
		}
	}
	return 0, fmt.Errorf("invalid option %q", s)
}

// OptionLabel renders a 0-based option index the way ParseCommand accepts it.
func OptionLabel(index int) string {
	if index >= 0 && index < 26 {
		return string(rune('A' + index))
	}
	return strconv.Itoa(index + 1)
}
