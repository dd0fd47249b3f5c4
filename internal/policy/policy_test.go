package policy_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sea-e2e/internal/page"
	"sea-e2e/internal/policy"
)

func TestRegisterPagePolicy(t *testing.T) {
	p := policy.New(policy.MessageContains("angular is not defined"), policy.CrossOriginScriptError())

	cases := []struct {
		name string
		err  page.Error
		want bool
	}{
		{"angular", page.Error{Message: "Uncaught ReferenceError: angular is not defined", Source: "http://x/Register.html", Line: 7}, true},
		{"opaque cross-origin", page.Error{Message: "Script error."}, true},
		{"first-party script error text", page.Error{Message: "Script error.", Source: "http://x/app.js", Line: 12}, false},
		{"unrelated", page.Error{Message: "TypeError: x is undefined"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.Suppress(tc.err))
		})
	}
}

func TestMessageMatchesAndFunc(t *testing.T) {
	p := policy.New(
		policy.MessageMatches(regexp.MustCompile(`^ResizeObserver`)),
		policy.Func("from vendor", func(e page.Error) bool { return e.Source == "vendor.js" }),
	)
	assert.True(t, p.Suppress(page.Error{Message: "ResizeObserver loop limit exceeded"}))
	assert.True(t, p.Suppress(page.Error{Message: "boom", Source: "vendor.js"}))
	assert.False(t, p.Suppress(page.Error{Message: "boom"}))

	r, ok := p.Match(page.Error{Message: "boom", Source: "vendor.js"})
	assert.True(t, ok)
	assert.Equal(t, "from vendor", r.String())
}

func TestNilAndEmptyPolicySuppressNothing(t *testing.T) {
	var nilPolicy *policy.Policy
	assert.False(t, nilPolicy.Suppress(page.Error{Message: "Script error."}))
	assert.False(t, policy.New().Suppress(page.Error{Message: "Script error."}))
}

func TestRulesReturnsACopy(t *testing.T) {
	p := policy.New(policy.MessageContains("angular is not defined"), policy.CrossOriginScriptError())
	rules := p.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, `message contains "angular is not defined"`, rules[0].String())

	rules[0] = policy.MessageContains("boom")
	assert.False(t, p.Suppress(page.Error{Message: "boom"}))

	var nilPolicy *policy.Policy
	assert.Nil(t, nilPolicy.Rules())
}
