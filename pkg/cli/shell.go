// pkg/cli/shell.go
package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnterminatedQuote is returned by SplitArgs for an unclosed quote.
var ErrUnterminatedQuote = errors.New("unterminated quoted argument")

// Shell reads commands for the pagekv console. It provides line
// continuation with a trailing backslash and command history.
type Shell struct {
	// reader reads input lines
	reader *bufio.Reader

	// output writes normal output
	output io.Writer

	// errOutput writes error messages
	errOutput io.Writer

	// prompt is the primary prompt shown for new commands
	prompt string

	// continuePrompt is shown for continued lines
	continuePrompt string

	// history stores command history for recall
	history []string

	// historyIndex tracks current position when navigating history
	historyIndex int

	// maxHistory is the maximum number of history entries to keep
	maxHistory int
}

// NewShell creates a new interactive shell with the given input/output streams.
// If errOutput is nil, errors are written to output.
func NewShell(input io.Reader, output, errOutput io.Writer) *Shell {
	var reader *bufio.Reader
	if input != nil {
		reader = bufio.NewReader(input)
	}

	if errOutput == nil {
		errOutput = output
	}

	return &Shell{
		reader:         reader,
		output:         output,
		errOutput:      errOutput,
		prompt:         "pagekv> ",
		continuePrompt: "    ...> ",
		history:        make([]string, 0),
		maxHistory:     1000,
	}
}

// SetPrompt changes the primary prompt string.
func (s *Shell) SetPrompt(prompt string) {
	s.prompt = prompt
}

// SetContinuePrompt changes the continuation prompt string.
func (s *Shell) SetContinuePrompt(prompt string) {
	s.continuePrompt = prompt
}

// ReadLine reads a single line from input, stripping trailing whitespace.
// It returns the line and whether EOF was reached.
func (s *Shell) ReadLine() (string, bool) {
	if s.reader == nil {
		return "", true
	}

	line, err := s.reader.ReadString('\n')
	line = strings.TrimRight(line, " \t\r\n")
	return line, err != nil
}

// ReadCommand reads one command, joining lines that end with a backslash or
// leave a quote open. Returns the command and whether EOF was reached.
func (s *Shell) ReadCommand() (string, bool) {
	var sb strings.Builder
	isFirst := true

	for {
		if s.output != nil {
			if isFirst {
				io.WriteString(s.output, s.prompt)
			} else {
				io.WriteString(s.output, s.continuePrompt)
			}
		}
		isFirst = false

		line, eof := s.ReadLine()
		if eof && line == "" && sb.Len() == 0 {
			return "", true
		}

		sb.WriteString(line)
		cmd := sb.String()
		if s.IsComplete(cmd) {
			if trimmed := strings.TrimSpace(cmd); trimmed != "" {
				s.AddHistory(trimmed)
			}
			return cmd, eof
		}
		if eof {
			return cmd, true
		}

		if strings.HasSuffix(cmd, `\`) {
			cmd = strings.TrimSuffix(cmd, `\`)
			sb.Reset()
			sb.WriteString(cmd)
			sb.WriteByte(' ')
		} else {
			sb.WriteByte('\n')
		}
	}
}

// IsComplete reports whether cmd is a whole command: its quotes are closed
// and it does not end with a continuation backslash.
func (s *Shell) IsComplete(cmd string) bool {
	if strings.HasSuffix(cmd, `\`) {
		return false
	}
	_, err := SplitArgs(cmd)
	return !errors.Is(err, ErrUnterminatedQuote)
}

// SplitArgs splits a command line into arguments. Double quotes group
// words and support \" and \\ escapes; an empty pair of quotes is an empty
// argument.
func SplitArgs(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inArg, inQuote := false, false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuote && c == '\\' && i+1 < len(line) && (line[i+1] == '"' || line[i+1] == '\\'):
			i++
			cur.WriteByte(line[i])
		case c == '"':
			inQuote = !inQuote
			inArg = true
		case !inQuote && (c == ' ' || c == '\t' || c == '\n'):
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteByte(c)
			inArg = true
		}
	}
	if inQuote {
		return args, ErrUnterminatedQuote
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}

// AddHistory adds a command to the command history.
func (s *Shell) AddHistory(cmd string) {
	// Don't add duplicates of the last entry
	if len(s.history) > 0 && s.history[len(s.history)-1] == cmd {
		return
	}

	s.history = append(s.history, cmd)

	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}

	s.historyIndex = len(s.history)
}

// History returns a copy of the command history.
func (s *Shell) History() []string {
	result := make([]string, len(s.history))
	copy(result, s.history)
	return result
}

// ClearHistory removes all entries from the command history.
func (s *Shell) ClearHistory() {
	s.history = make([]string, 0)
	s.historyIndex = 0
}

// HistoryPrev returns the previous history entry, or empty string if at the beginning.
func (s *Shell) HistoryPrev() string {
	if s.historyIndex > 0 {
		s.historyIndex--
		return s.history[s.historyIndex]
	}
	return ""
}

// HistoryNext returns the next history entry, or empty string if at the end.
func (s *Shell) HistoryNext() string {
	if s.historyIndex < len(s.history)-1 {
		s.historyIndex++
		return s.history[s.historyIndex]
	}
	s.historyIndex = len(s.history)
	return ""
}
