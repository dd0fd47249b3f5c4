package assert_test

import (
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sassert "sea-e2e/internal/assert"
	"sea-e2e/internal/command"
	"sea-e2e/internal/page"
)

func value(v any) command.Subject { return command.Immutable(command.SubjectValue, v) }

func elements(els ...page.Element) command.Subject {
	q := page.Query{Selector: "input"}
	s := command.Immutable(command.SubjectElements, els)
	s.Query = &q
	return s
}

func response(status int, body any) command.Subject {
	return command.Immutable(command.SubjectResponse, &command.Response{
		Method: http.MethodGet,
		URL:    "https://petstore.swagger.io/v2/pet/1",
		Status: status,
		Body:   body,
	})
}

func TestParse(t *testing.T) {
	pets := []any{
		map[string]any{"id": float64(1), "status": "available", "tags": []any{"a"}},
		map[string]any{"id": float64(2), "status": "available", "tags": []any{}},
	}
	input := page.Element{Tag: "input", Value: "abc", Visible: true, Enabled: true, Checked: true,
		Attrs: map[string]string{"type": "checkbox", "name": "hobby"}}

	tests := []struct {
		chainer string
		args    []any
		subject command.Subject
		pass    bool
	}{
		{"have.status", []any{200}, response(200, nil), true},
		{"have.status", []any{"404"}, response(200, nil), false},
		{"have.property", []any{"body.name", "doggie"}, response(200, map[string]any{"name": "doggie"}), true},
		{"have.property", []any{"body.name"}, response(200, map[string]any{}), false},
		{"each.have.property", []any{"status", "available"}, value(pets), true},
		{"each.have.property", []any{"tags[0]"}, value(pets), false},
		{"have.length", []any{2}, value(pets), true},
		{"have.length.greaterThan", []any{0}, value(pets), true},
		{"have.length.lessThan", []any{2}, value(pets), false},
		{"be.an", []any{"array"}, value(pets), true},
		{"be.a", []any{"string"}, value("x"), true},
		{"eq", []any{7}, value(float64(7)), true},
		{"deep.equal", []any{map[string]any{"a": 1}}, value(map[string]any{"a": float64(1)}), true},
		{"deep.include", []any{map[string]any{"status": "available"}}, value(pets[0]), true},
		{"include", []any{"/Register.html"}, value("http://x/Register.html"), true},
		{"contain", []any{"available"}, value([]any{"available", "sold"}), true},
		{"match", []any{`^ab`}, value("abc"), true},
		{"be.empty", nil, value([]any{}), true},
		{"be.visible", nil, elements(input), true},
		{"be.hidden", nil, elements(input), false},
		{"be.checked", nil, elements(input), true},
		{"not.be.checked", nil, elements(input), false},
		{"be.enabled", nil, elements(input), true},
		{"have.value", []any{"abc"}, elements(input), true},
		{"have.attr", []any{"name", "hobby"}, elements(input), true},
		{"exist", nil, elements(input), true},
		{"not.exist", nil, elements(), true},
		{"and.have.value", []any{"abc"}, elements(input), true},
	}
	for _, tt := range tests {
		t.Run(tt.chainer, func(t *testing.T) {
			a, err := sassert.Parse(tt.chainer, tt.args...)
			require.NoError(t, err)
			err = a.Check(tt.subject)
			if tt.pass {
				assert.NoError(t, err, a.Description)
			} else {
				assert.Error(t, err, a.Description)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	_, err := sassert.Parse("be.fluffy")
	assert.True(t, errors.Is(err, sassert.ErrUnknownChainer))
	_, err = sassert.Parse("have.property")
	assert.Error(t, err)
	_, err = sassert.Parse("have.length", "many")
	assert.Error(t, err)
	_, err = sassert.Parse("match", "(")
	assert.Error(t, err)
}

func TestNotExistExpectsAbsence(t *testing.T) {
	assert.True(t, sassert.NotExist().ExpectsAbsence())
	assert.False(t, sassert.Exist().ExpectsAbsence())
	assert.False(t, sassert.Not(sassert.Visible()).ExpectsAbsence())
	assert.False(t, sassert.Not(sassert.NotExist()).ExpectsAbsence())
}

func TestMissingElementsAreRecognised(t *testing.T) {
	err := sassert.Visible().Check(elements())
	require.Error(t, err)
	assert.True(t, sassert.IsMissingElement(err))

	err = sassert.Visible().Check(elements(page.Element{Tag: "p"}))
	require.Error(t, err)
	assert.False(t, sassert.IsMissingElement(err))
}

func TestEqualReportsDiff(t *testing.T) {
	err := sassert.Equal(map[string]any{"status": "sold"}).Check(value(map[string]any{"status": "available"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sold")
	assert.Contains(t, err.Error(), "available")
}

func TestSatisfyAndMatch(t *testing.T) {
	even := sassert.Satisfy("be even", func(v any) error {
		if int(v.(float64))%2 != 0 {
			return errors.New("odd")
		}
		return nil
	})
	assert.NoError(t, even.Check(value(float64(4))))
	assert.Error(t, even.Check(value(float64(3))))

	m := sassert.Match(regexp.MustCompile(`^Fr`))
	assert.NoError(t, m.Check(elements(page.Element{Tag: "option", Text: "France"})))
}
