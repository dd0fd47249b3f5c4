// Package assert provides the predicates attached to commands with Should.
//
// An Assertion never retries by itself; the retry evaluator decides how often it is
// evaluated and against which observation of the subject.
package assert

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/google/go-cmp/cmp"

	"sea-e2e/internal/command"
	"sea-e2e/internal/page"
)

// Assertion is a predicate over a subject plus its human-readable description.
type Assertion struct {
	Description string
	check       func(command.Subject) error
	// absence is set for assertions that pass on an empty element set.
	absence bool
}

// New builds a custom assertion. check returns nil when the subject satisfies it.
func New(description string, check func(command.Subject) error) Assertion {
	return Assertion{Description: description, check: check}
}

func (a Assertion) Check(s command.Subject) error {
	if a.check == nil {
		return fmt.Errorf("assertion %q has no predicate", a.Description)
	}
	return a.check(s)
}

// ExpectsAbsence reports whether the assertion is satisfied by a missing element,
// which tells the engine not to wait for the element to exist first.
func (a Assertion) ExpectsAbsence() bool { return a.absence }

func (a Assertion) String() string { return a.Description }

// Not negates an assertion.
func Not(a Assertion) Assertion {
	return Assertion{
		Description: "not " + a.Description,
		absence:     !a.absence && strings.HasPrefix(a.Description, "exist"),
		check: func(s command.Subject) error {
			if err := a.Check(s); err == nil {
				return fmt.Errorf("expected %s not to %s", describe(s), a.Description)
			}
			return nil
		},
	}
}

// ---- element assertions ----

func Exist() Assertion {
	return New("exist", func(s command.Subject) error {
		if len(s.Elements()) == 0 {
			return fmt.Errorf("expected %s to exist: %w", queryOf(s), errNoElements)
		}
		return nil
	})
}

func NotExist() Assertion { return Not(Exist()) }

func Visible() Assertion {
	return eachElement("be visible", func(e page.Element) bool { return e.Visible })
}

func Hidden() Assertion {
	return eachElement("be hidden", func(e page.Element) bool { return !e.Visible })
}

func Enabled() Assertion {
	return eachElement("be enabled", func(e page.Element) bool { return e.Enabled })
}

func Disabled() Assertion {
	return eachElement("be disabled", func(e page.Element) bool { return !e.Enabled })
}

func Checked() Assertion {
	return eachElement("be checked", func(e page.Element) bool { return e.Checked })
}

func HaveValue(want string) Assertion {
	desc := fmt.Sprintf("have value %q", want)
	return New(desc, func(s command.Subject) error {
		els, err := needElements(s)
		if err != nil {
			return err
		}
		if got := els[0].Value; got != want {
			return fmt.Errorf("expected %s to %s, but the value was %q", els[0], desc, got)
		}
		return nil
	})
}

func HaveText(want string) Assertion {
	desc := fmt.Sprintf("have text %q", want)
	return New(desc, func(s command.Subject) error {
		els, err := needElements(s)
		if err != nil {
			return err
		}
		if got := strings.TrimSpace(els[0].Text); got != want {
			return fmt.Errorf("expected %s to %s, but the text was %q", els[0], desc, got)
		}
		return nil
	})
}

func HaveAttr(name, want string) Assertion {
	desc := fmt.Sprintf("have attribute %s=%q", name, want)
	return New(desc, func(s command.Subject) error {
		els, err := needElements(s)
		if err != nil {
			return err
		}
		got, ok := els[0].Attr(name)
		if !ok || got != want {
			return fmt.Errorf("expected %s to %s, got %q", els[0], desc, got)
		}
		return nil
	})
}

func eachElement(desc string, ok func(page.Element) bool) Assertion {
	return New(desc, func(s command.Subject) error {
		els, err := needElements(s)
		if err != nil {
			return err
		}
		for _, e := range els {
			if !ok(e) {
				return fmt.Errorf("expected %s to %s", e, desc)
			}
		}
		return nil
	})
}

var errNoElements = errors.New("no elements matched")

func needElements(s command.Subject) ([]page.Element, error) {
	if s.Kind != command.SubjectElements {
		return nil, fmt.Errorf("expected a DOM element subject, got %s", describe(s))
	}
	els := s.Elements()
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", errNoElements, queryOf(s))
	}
	return els, nil
}

// IsMissingElement reports whether an assertion error came from an empty element set.
func IsMissingElement(err error) bool { return errors.Is(err, errNoElements) }

// ---- value assertions ----

// Contain checks text for elements, substrings for strings and membership for arrays.
func Contain(want any) Assertion {
	desc := fmt.Sprintf("contain %s", render(want))
	return New(desc, func(s command.Subject) error {
		if s.Kind == command.SubjectElements {
			els, err := needElements(s)
			if err != nil {
				return err
			}
			text := fmt.Sprint(want)
			for _, e := range els {
				if strings.Contains(e.Text, text) || strings.Contains(e.Value, text) {
					return nil
				}
			}
			return fmt.Errorf("expected %s to %s", describe(s), desc)
		}
		if contains(s.Value, want) {
			return nil
		}
		return fmt.Errorf("expected %s to %s", describe(s), desc)
	})
}

// Include is the chai spelling used for strings and URLs.
func Include(want any) Assertion {
	a := Contain(want)
	a.Description = "include " + render(want)
	return a
}

func contains(have, want any) bool {
	switch h := have.(type) {
	case string:
		return strings.Contains(h, fmt.Sprint(want))
	case []any:
		w := normalize(want)
		for _, item := range h {
			if cmp.Equal(normalize(item), w) {
				return true
			}
		}
		return false
	case map[string]any:
		return isSubset(h, normalize(want))
	}
	return false
}

func Equal(want any) Assertion {
	desc := fmt.Sprintf("equal %s", render(want))
	return New(desc, func(s command.Subject) error {
		got := normalize(subjectValue(s))
		w := normalize(want)
		if cmp.Equal(got, w) {
			return nil
		}
		return fmt.Errorf("expected %s to %s (-want +got):\n%s", describe(s), desc, cmp.Diff(w, got))
	})
}

// DeepInclude passes when every key of want is present with an equal value.
func DeepInclude(want any) Assertion {
	desc := fmt.Sprintf("deep include %s", render(want))
	return New(desc, func(s command.Subject) error {
		got := normalize(subjectValue(s))
		if isSubset(got, normalize(want)) {
			return nil
		}
		return fmt.Errorf("expected %s to %s", describe(s), desc)
	})
}

func isSubset(have, want any) bool {
	wm, ok := want.(map[string]any)
	if !ok {
		return cmp.Equal(have, want)
	}
	hm, ok := have.(map[string]any)
	if !ok {
		return false
	}
	for k, wv := range wm {
		hv, ok := hm[k]
		if !ok || !isSubset(hv, wv) {
			return false
		}
	}
	return true
}

func HaveLength(n int) Assertion {
	return lengthCheck(fmt.Sprintf("have length %d", n), func(l int) bool { return l == n })
}

func LengthGreaterThan(n int) Assertion {
	return lengthCheck(fmt.Sprintf("have length greater than %d", n), func(l int) bool { return l > n })
}

func LengthLessThan(n int) Assertion {
	return lengthCheck(fmt.Sprintf("have length less than %d", n), func(l int) bool { return l < n })
}

func lengthCheck(desc string, ok func(int) bool) Assertion {
	return New(desc, func(s command.Subject) error {
		l, err := length(subjectValue(s))
		if err != nil {
			return fmt.Errorf("expected %s to %s: %w", describe(s), desc, err)
		}
		if !ok(l) {
			return fmt.Errorf("expected %s to %s, but the length was %d", describe(s), desc, l)
		}
		return nil
	})
}

func length(v any) (int, error) {
	switch x := v.(type) {
	case []page.Element:
		return len(x), nil
	case []any:
		return len(x), nil
	case string:
		return len(x), nil
	case map[string]any:
		return len(x), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len(), nil
	}
	return 0, fmt.Errorf("%T has no length", v)
}

// HaveProperty checks that path resolves; with a value it must also be equal.
func HaveProperty(path string, value ...any) Assertion {
	desc := fmt.Sprintf("have property %q", path)
	if len(value) > 0 {
		desc = fmt.Sprintf("have property %q of %s", path, render(value[0]))
	}
	return New(desc, func(s command.Subject) error {
		got, ok := command.Lookup(subjectValue(s), path)
		if !ok {
			return fmt.Errorf("expected %s to %s", describe(s), desc)
		}
		if len(value) == 0 {
			return nil
		}
		if !cmp.Equal(normalize(got), normalize(value[0])) {
			return fmt.Errorf("expected %s to %s, but it was %s", describe(s), desc, render(got))
		}
		return nil
	})
}

// Status checks the status code of a response subject.
func Status(code int) Assertion {
	desc := fmt.Sprintf("have status %d", code)
	return New(desc, func(s command.Subject) error {
		resp, ok := s.Value.(*command.Response)
		if !ok {
			return fmt.Errorf("expected a response subject, got %s", describe(s))
		}
		if resp.Status != code {
			return fmt.Errorf("status: got %d, want %d", resp.Status, code)
		}
		return nil
	})
}

// BeA checks the JSON type of the subject: array, object, string, number, boolean or null.
func BeA(typ string) Assertion {
	typ = strings.ToLower(typ)
	desc := "be a " + typ
	return New(desc, func(s command.Subject) error {
		if got := jsonType(normalize(subjectValue(s))); got != typ {
			return fmt.Errorf("expected %s to %s, but it was a %s", describe(s), desc, got)
		}
		return nil
	})
}

func Empty() Assertion {
	return lengthCheck("be empty", func(l int) bool { return l == 0 })
}

func Match(re *regexp.Regexp) Assertion {
	desc := fmt.Sprintf("match %s", re)
	return New(desc, func(s command.Subject) error {
		v := subjectValue(s)
		if els, ok := v.([]page.Element); ok && len(els) > 0 {
			v = els[0].Text
		}
		if !re.MatchString(fmt.Sprint(v)) {
			return fmt.Errorf("expected %s to %s", describe(s), desc)
		}
		return nil
	})
}

// Each applies inner to every item of an array subject. An empty array passes.
func Each(inner Assertion) Assertion {
	desc := "each " + inner.Description
	return New(desc, func(s command.Subject) error {
		items, ok := normalize(subjectValue(s)).([]any)
		if !ok {
			return fmt.Errorf("expected %s to be an array", describe(s))
		}
		for i, item := range items {
			if err := inner.Check(command.Immutable(command.SubjectValue, item)); err != nil {
				return fmt.Errorf("item [%d]: %w", i, err)
			}
		}
		return nil
	})
}

// Satisfy wraps a predicate over the raw subject value.
func Satisfy(description string, fn func(v any) error) Assertion {
	return New(description, func(s command.Subject) error { return fn(subjectValue(s)) })
}

// ---- helpers ----

func subjectValue(s command.Subject) any {
	return s.Value
}

// normalize maps Go values onto the generic JSON model so that 1 equals 1.0
// and structs compare with decoded bodies.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	case *command.Response, []page.Element:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any, []page.Element:
		return "array"
	case map[string]any:
		return "object"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func describe(s command.Subject) string {
	if s.Kind == command.SubjectElements {
		els := s.Elements()
		if len(els) == 1 {
			return els[0].String()
		}
		return fmt.Sprintf("%d elements matching %s", len(els), queryOf(s))
	}
	if r, ok := s.Value.(*command.Response); ok {
		return r.FailureString()
	}
	return render(s.Value)
}

func queryOf(s command.Subject) string {
	if s.Query != nil {
		return s.Query.String()
	}
	return "subject"
}
