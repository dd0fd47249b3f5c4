// Package vars loads suite variables and expands ${NAME} references.
//
// Every scenario gets its own copy of the variables plus three built-ins
// fixed for the scenario's lifetime: ${uuid}, ${now} and ${random}, so a
// scenario can create a resource under a fresh id and query it back.
package vars

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

func LoadJSONFiles(paths []string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}

		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		for k, v := range m {
			switch x := v.(type) {
			case string:
				out[k] = x
			default:
				out[k] = fmt.Sprint(x) // numbers and bools as strings
			}
		}
	}
	return out, nil
}

// Merge returns a new map with later maps overriding earlier ones.
func Merge(ms ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// Scenario clones base and adds the per-scenario built-ins.
func Scenario(base map[string]string) map[string]string {
	out := Merge(base)
	out["uuid"] = uuid.NewString()
	out["now"] = time.Now().UTC().Format(time.RFC3339)
	out["random"] = strconv.Itoa(100000 + rand.Intn(900000))
	return out
}

var pattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Expand replaces ${KEY} and ${KEY|default}. A missing key without default is
// left intact so Unresolved can report it.
func Expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return pattern.ReplaceAllStringFunc(s, func(ref string) string {
		inner := ref[2 : len(ref)-1]
		key, def, hasDef := strings.Cut(inner, "|")
		if v, ok := m[strings.TrimSpace(key)]; ok && v != "" {
			return v
		}
		if hasDef {
			return def
		}
		return ref
	})
}

// ExpandAll walks strings inside maps and slices, as decoded from YAML or JSON.
func ExpandAll(v any, m map[string]string) any {
	switch x := v.(type) {
	case string:
		return Expand(x, m)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = ExpandAll(vv, m)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = ExpandAll(x[i], m)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(x))
		for k, vv := range x {
			out[k] = Expand(vv, m)
		}
		return out
	case []string:
		out := make([]string, len(x))
		for i := range x {
			out[i] = Expand(x[i], m)
		}
		return out
	default:
		return v
	}
}

// Unresolved lists the references in s that have neither a value nor a default.
func Unresolved(s string) []string {
	var out []string
	for _, ref := range pattern.FindAllStringSubmatch(s, -1) {
		if strings.Contains(ref[1], "|") {
			continue
		}
		out = append(out, ref[0])
	}
	return out
}

var whole = regexp.MustCompile(`^\$\{([^}]+)\}$`)

// ExpandJSON is ExpandAll for JSON documents: a string that is exactly one
// reference takes the JSON type of its value, so `id: ${PET_ID}` stays a
// number.
func ExpandJSON(v any, m map[string]string) any {
	switch x := v.(type) {
	case string:
		out := Expand(x, m)
		if !whole.MatchString(x) || out == x {
			return out
		}
		if n, err := strconv.ParseInt(out, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(out, 64); err == nil {
			return f
		}
		if b, err := strconv.ParseBool(out); err == nil {
			return b
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = ExpandJSON(vv, m)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = ExpandJSON(x[i], m)
		}
		return out
	default:
		return ExpandAll(v, m)
	}
}
