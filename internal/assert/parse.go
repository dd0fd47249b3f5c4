package assert

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrUnknownChainer = errors.New("unknown chainer")

// Parse builds an assertion from a chai-style chainer such as "be.visible",
// "have.value" or "not.exist". args carry the chainer's operands in order, e.g.
// Parse("have.property", "status", "available").
func Parse(chainer string, args ...any) (Assertion, error) {
	c := strings.TrimSpace(chainer)
	c = strings.TrimPrefix(c, "and.")
	if rest, ok := strings.CutPrefix(c, "not."); ok {
		a, err := Parse(rest, args...)
		if err != nil {
			return Assertion{}, err
		}
		return Not(a), nil
	}
	if rest, ok := strings.CutPrefix(c, "each."); ok {
		a, err := Parse(rest, args...)
		if err != nil {
			return Assertion{}, err
		}
		return Each(a), nil
	}

	switch c {
	case "exist":
		return Exist(), nil
	case "be.visible":
		return Visible(), nil
	case "be.hidden":
		return Hidden(), nil
	case "be.enabled":
		return Enabled(), nil
	case "be.disabled":
		return Disabled(), nil
	case "be.checked":
		return Checked(), nil
	case "be.empty":
		return Empty(), nil
	}

	if len(args) == 0 {
		if c == "have.property" {
			return Assertion{}, fmt.Errorf("%s: missing property path", c)
		}
		return Assertion{}, fmt.Errorf("%w: %q (or missing operand)", ErrUnknownChainer, chainer)
	}
	first := args[0]

	switch c {
	case "have.value":
		return HaveValue(fmt.Sprint(first)), nil
	case "have.text":
		return HaveText(fmt.Sprint(first)), nil
	case "have.attr":
		if len(args) < 2 {
			return Assertion{}, fmt.Errorf("%s: want name and value", c)
		}
		return HaveAttr(fmt.Sprint(first), fmt.Sprint(args[1])), nil
	case "contain", "contain.text", "contains":
		return Contain(first), nil
	case "include":
		return Include(first), nil
	case "eq", "equal", "deep.equal", "deep.eq":
		return Equal(first), nil
	case "deep.include":
		return DeepInclude(first), nil
	case "have.length":
		n, err := toInt(first)
		if err != nil {
			return Assertion{}, fmt.Errorf("%s: %w", c, err)
		}
		return HaveLength(n), nil
	case "have.length.greaterThan", "have.length.gt", "have.length.above":
		n, err := toInt(first)
		if err != nil {
			return Assertion{}, fmt.Errorf("%s: %w", c, err)
		}
		return LengthGreaterThan(n), nil
	case "have.length.lessThan", "have.length.lt", "have.length.below":
		n, err := toInt(first)
		if err != nil {
			return Assertion{}, fmt.Errorf("%s: %w", c, err)
		}
		return LengthLessThan(n), nil
	case "have.property":
		path := fmt.Sprint(first)
		if len(args) > 1 {
			return HaveProperty(path, args[1]), nil
		}
		return HaveProperty(path), nil
	case "have.status":
		n, err := toInt(first)
		if err != nil {
			return Assertion{}, fmt.Errorf("%s: %w", c, err)
		}
		return Status(n), nil
	case "be.a", "be.an":
		return BeA(fmt.Sprint(first)), nil
	case "match":
		re, err := regexp.Compile(fmt.Sprint(first))
		if err != nil {
			return Assertion{}, fmt.Errorf("%s: %w", c, err)
		}
		return Match(re), nil
	}
	return Assertion{}, fmt.Errorf("%w: %q", ErrUnknownChainer, chainer)
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	}
	return 0, fmt.Errorf("want an integer, got %T", v)
}
