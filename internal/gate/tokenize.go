package gate

import (
	"fmt"
	"strings"
)

// Tokenize splits a shell-style command string into argv, honoring single
// and double quotes. There is no shell interpretation beyond quote
// stripping: no variable expansion, no globbing, no redirection. Arguments
// are handed to the target process literally, which keeps gate commands
// deterministic and injection-free.
func Tokenize(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inToken bool
		quote   rune // 0 when outside quotes
	)

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case quote == '"':
			if r == '"' {
				quote = 0
			} else if r == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\') {
				i++
				current.WriteRune(runes[i])
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			if inToken {
				args = append(args, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote in command %q", quote, command)
	}
	if inToken {
		args = append(args, current.String())
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}
