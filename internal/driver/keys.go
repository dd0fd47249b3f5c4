package driver

import (
	"fmt"
	"strings"

	"sea-e2e/internal/page"
)

// Key is one keystroke of a typed sequence.
type Key struct {
	Key     string
	Special bool
}

var specialKeys = map[string]string{
	"backspace": page.KeyBackspace,
	"selectall": page.KeySelectAll,
	"enter":     page.KeyEnter,
}

// ParseKeys splits typed text into keystrokes. Special keys are written in
// braces ({backspace}, {selectall}, {enter}); "{{}" types a literal brace.
func ParseKeys(text string) ([]Key, error) {
	var keys []Key
	for i := 0; i < len(text); {
		if text[i] != '{' {
			r := []rune(text[i:])[0]
			keys = append(keys, Key{Key: string(r)})
			i += len(string(r))
			continue
		}
		end := strings.IndexByte(text[i+1:], '}')
		if end < 0 {
			return nil, fmt.Errorf("unterminated special key in %q", text)
		}
		name := text[i+1 : i+1+end]
		switch {
		case name == "{":
			keys = append(keys, Key{Key: "{"})
		case specialKeys[strings.ToLower(name)] != "":
			keys = append(keys, Key{Key: specialKeys[strings.ToLower(name)], Special: true})
		default:
			return nil, fmt.Errorf("unknown special key {%s}", name)
		}
		i += end + 2
	}
	return keys, nil
}
