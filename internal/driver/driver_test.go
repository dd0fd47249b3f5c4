package driver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sea-e2e/internal/command"
	"sea-e2e/internal/driver"
	"sea-e2e/internal/failure"
	"sea-e2e/internal/fixture"
	"sea-e2e/internal/intercept"
	"sea-e2e/internal/page"
	"sea-e2e/internal/page/memdom"
	"sea-e2e/internal/retry"
)

const registerURL = "http://demo.automationtesting.in" + fixture.RegisterPath

func newRegisterDriver(t *testing.T) (*driver.Driver, *memdom.Page) {
	t.Helper()
	reg := intercept.NewRegistry(nil)
	p, err := intercept.ParsePattern("GET " + fixture.CountriesURL)
	require.NoError(t, err)
	reg.Intercept(p, &intercept.Response{Body: fixture.Countries}, "countries")

	opts := []memdom.Option{memdom.WithClient(intercept.NewTransport(reg, nil, "", nil).Client(time.Second))}
	for pattern, b := range fixture.Behaviors() {
		opts = append(opts, memdom.WithBehavior(pattern, b))
	}
	pg, err := memdom.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	require.NoError(t, pg.SetContent(registerURL, fixture.RegisterHTML))

	eval := retry.New(time.Second, 10*time.Millisecond)
	return driver.New(pg, eval, driver.WithTypeDelay(0)), pg
}

func find(t *testing.T, d *driver.Driver, sel string) command.Subject {
	t.Helper()
	s, err := d.Find(context.Background(), page.Query{Selector: sel}, true, command.Options{})
	require.NoError(t, err)
	return s
}

func TestParseKeys(t *testing.T) {
	keys, err := driver.ParseKeys("a{backspace}{{}b{Enter}")
	require.NoError(t, err)
	assert.Equal(t, []driver.Key{
		{Key: "a"},
		{Key: page.KeyBackspace, Special: true},
		{Key: "{"},
		{Key: "b"},
		{Key: page.KeyEnter, Special: true},
	}, keys)

	_, err = driver.ParseKeys("{tab}")
	assert.Error(t, err)
	_, err = driver.ParseKeys("abc{")
	assert.Error(t, err)
}

func TestTypeThenValue(t *testing.T) {
	d, _ := newRegisterDriver(t)
	ctx := context.Background()

	s, err := d.Type(ctx, find(t, d, `input[ng-model="FirstName"]`), "abc", command.Options{})
	require.NoError(t, err)
	require.Len(t, s.Elements(), 1)
	assert.Equal(t, "abc", s.Elements()[0].Value)

	s, err = d.Clear(ctx, s, command.Options{})
	require.NoError(t, err)
	assert.Equal(t, "", s.Elements()[0].Value)
}

func TestTypePacedByDelay(t *testing.T) {
	d, _ := newRegisterDriver(t)
	start := time.Now()
	_, err := d.Type(context.Background(), find(t, d, "#firstpassword"), "abcde", command.Options{Delay: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestTypeRespectsMaxLength(t *testing.T) {
	d, _ := newRegisterDriver(t)
	s, err := d.Type(context.Background(), find(t, d, `input[ng-model="Phone"]`), "123456789012", command.Options{})
	require.NoError(t, err)
	assert.Equal(t, "1234567890", s.Elements()[0].Value)
}

func TestTypeOnCheckboxIsInvalidWithoutWaiting(t *testing.T) {
	d, _ := newRegisterDriver(t)
	start := time.Now()
	_, err := d.Type(context.Background(), find(t, d, "#checkbox1"), "x", command.Options{})
	require.Error(t, err)
	assert.Equal(t, failure.KindInvalidCommand, failure.KindOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCheckIsIdempotent(t *testing.T) {
	d, _ := newRegisterDriver(t)
	ctx := context.Background()

	s, err := d.Check(ctx, find(t, d, "#checkbox1"), command.Options{})
	require.NoError(t, err)
	assert.True(t, s.Elements()[0].Checked)

	s, err = d.Check(ctx, s, command.Options{})
	require.NoError(t, err)
	assert.True(t, s.Elements()[0].Checked, "checking twice must not toggle the box off")

	s, err = d.Uncheck(ctx, s, command.Options{})
	require.NoError(t, err)
	assert.False(t, s.Elements()[0].Checked)
}

func TestCheckAllMatched(t *testing.T) {
	d, _ := newRegisterDriver(t)
	s, err := d.Check(context.Background(), find(t, d, `input[type="checkbox"]`), command.Options{})
	require.NoError(t, err)
	require.Len(t, s.Elements(), 3)
	for _, el := range s.Elements() {
		assert.True(t, el.Checked, el.String())
	}
}

func TestUncheckRadioIsInvalid(t *testing.T) {
	d, _ := newRegisterDriver(t)
	ctx := context.Background()
	radio := find(t, d, `input[value="Male"]`)

	_, err := d.Check(ctx, radio, command.Options{})
	require.NoError(t, err)
	_, err = d.Uncheck(ctx, radio, command.Options{})
	assert.Equal(t, failure.KindInvalidCommand, failure.KindOf(err))
}

func TestCheckReobservesStaleSubject(t *testing.T) {
	d, _ := newRegisterDriver(t)
	ctx := context.Background()
	box := find(t, d, "#checkbox1")

	_, err := d.Check(ctx, box, command.Options{})
	require.NoError(t, err)
	s, err := d.Check(ctx, box, command.Options{})
	require.NoError(t, err)
	assert.True(t, s.Elements()[0].Checked)

	s, err = d.Uncheck(ctx, box, command.Options{})
	require.NoError(t, err)
	assert.False(t, s.Elements()[0].Checked)
	assert.False(t, find(t, d, "#checkbox1").Elements()[0].Checked)
}

func TestSelectByValueAndText(t *testing.T) {
	d, _ := newRegisterDriver(t)
	ctx := context.Background()

	s, err := d.Select(ctx, find(t, d, "#yearbox"), []string{"1990"}, command.Options{})
	require.NoError(t, err)
	assert.Equal(t, "1990", s.Elements()[0].Value)

	s, err = d.Select(ctx, find(t, d, "#Skills"), []string{"Software"}, command.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Software", s.Elements()[0].Value)
}

func TestSelectWaitsForAsyncOptions(t *testing.T) {
	d, _ := newRegisterDriver(t)
	s, err := d.Select(context.Background(), find(t, d, "#countries"), []string{"France"}, command.Options{})
	require.NoError(t, err)
	assert.Equal(t, "France", s.Elements()[0].Value)
}

func TestSelectMissingOption(t *testing.T) {
	d, _ := newRegisterDriver(t)
	_, err := d.Select(context.Background(), find(t, d, "#yearbox"), []string{"1800"},
		command.Options{Timeout: 150 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrOptionNotFound)
	assert.Contains(t, err.Error(), `"1800"`)
}

func TestSelectMultipleValuesOnSingleSelect(t *testing.T) {
	d, _ := newRegisterDriver(t)
	_, err := d.Select(context.Background(), find(t, d, "#yearbox"), []string{"1990", "1991"}, command.Options{})
	assert.Equal(t, failure.KindInvalidCommand, failure.KindOf(err))
}

func TestClickHiddenElementTimesOutAsElementNotFound(t *testing.T) {
	d, _ := newRegisterDriver(t)
	item, err := d.Find(context.Background(), page.Query{Scope: "ul.ui-autocomplete", Text: "English"}, true, command.Options{})
	require.NoError(t, err)

	_, err = d.Click(context.Background(), item, command.Options{Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrElementNotFound)
	assert.Contains(t, err.Error(), "not visible")
}

func TestForceClickSkipsVisibility(t *testing.T) {
	d, _ := newRegisterDriver(t)
	ctx := context.Background()
	item, err := d.Find(ctx, page.Query{Scope: "ul.ui-autocomplete", Text: "German"}, true, command.Options{})
	require.NoError(t, err)

	_, err = d.Click(ctx, item, command.Options{Force: true})
	require.NoError(t, err)
	picked := find(t, d, "#msdd .ui-autocomplete-multiselect-item")
	assert.Contains(t, picked.Elements()[0].Text, "German")
}

func TestFindMissingElement(t *testing.T) {
	d, _ := newRegisterDriver(t)
	_, err := d.Find(context.Background(), page.Query{Selector: "#nope"}, true, command.Options{Timeout: 80 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrElementNotFound)
}

func TestClickMultipleIsInvalid(t *testing.T) {
	d, _ := newRegisterDriver(t)
	_, err := d.Click(context.Background(), find(t, d, `input[type="checkbox"]`), command.Options{})
	assert.Equal(t, failure.KindInvalidCommand, failure.KindOf(err))
}

func TestPickOpensPicksAndDismisses(t *testing.T) {
	d, _ := newRegisterDriver(t)
	_, err := d.Pick(context.Background(), find(t, d, "#msdd"), driver.PickSpec{
		Within: "ul.ui-autocomplete",
		Items:  []string{"English", "French"},
	}, command.Options{})
	require.NoError(t, err)

	picked := find(t, d, "#msdd .ui-autocomplete-multiselect-item")
	require.Len(t, picked.Elements(), 2)
	assert.Contains(t, picked.Elements()[0].Text, "English")
	assert.Contains(t, picked.Elements()[1].Text, "French")

	list := find(t, d, "ul.ui-autocomplete")
	assert.False(t, list.Elements()[0].Visible, "the list closes on the outside click")
}

func TestPickNeedsItems(t *testing.T) {
	d, _ := newRegisterDriver(t)
	_, err := d.Pick(context.Background(), find(t, d, "#msdd"), driver.PickSpec{}, command.Options{})
	assert.Equal(t, failure.KindInvalidCommand, failure.KindOf(err))
}
