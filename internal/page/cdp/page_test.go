package cdp_test

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sea-e2e/internal/intercept"
	"sea-e2e/internal/page"
	"sea-e2e/internal/page/cdp"
)

func chromePath(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("SEA_E2E_CHROME"); p != "" {
		return p
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome found; set SEA_E2E_CHROME to run browser tests")
	return ""
}

const formHTML = `<!doctype html><html><body>
<input id="name" maxlength="5">
<input id="agree" type="checkbox">
<select id="year"><option value="1990">1990</option><option value="1991">1991</option></select>
<p id="hidden" style="display:none">secret</p>
<script>setTimeout(function () { throw new Error("late failure"); }, 10);</script>
</body></html>`

func openPage(t *testing.T) *cdp.Page {
	path := chromePath(t)
	reg := intercept.NewRegistry(nil)
	p, err := intercept.ParsePattern("GET http://site.test/form")
	require.NoError(t, err)
	reg.Intercept(p, &intercept.Response{Body: formHTML, Headers: map[string]string{"Content-Type": "text/html"}}, "form")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	pg, err := cdp.Open(ctx, cdp.Options{
		ExecPath: path,
		Headless: true,
		Client:   intercept.NewTransport(reg, nil, "", nil).Client(10 * time.Second),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	require.NoError(t, pg.Visit(ctx, "http://site.test/form"))
	return pg
}

func one(t *testing.T, pg *cdp.Page, sel string) page.Element {
	t.Helper()
	els, err := pg.Query(context.Background(), page.Query{Selector: sel})
	require.NoError(t, err)
	require.Len(t, els, 1)
	return els[0]
}

func TestQueryAndTypeThroughChrome(t *testing.T) {
	pg := openPage(t)
	ctx := context.Background()

	name := one(t, pg, "#name")
	assert.True(t, name.Visible)
	for _, k := range "abcdefg" {
		for _, typ := range []page.EventType{page.EventKeyDown, page.EventKeyPress, page.EventKeyUp} {
			require.NoError(t, pg.Dispatch(ctx, name.Ref, page.Event{Type: typ, Key: string(k)}))
		}
	}
	assert.Equal(t, "abcde", one(t, pg, "#name").Value)
	assert.False(t, one(t, pg, "#hidden").Visible)

	agree := one(t, pg, "#agree")
	require.NoError(t, pg.Dispatch(ctx, agree.Ref, page.Event{Type: page.EventClick}))
	assert.True(t, one(t, pg, "#agree").Checked)

	year := one(t, pg, "#year")
	require.Len(t, year.Options, 2)
	require.NoError(t, pg.Dispatch(ctx, year.Ref, page.Event{Type: page.EventChange, Values: []string{"1991"}}))
	assert.Equal(t, "1991", one(t, pg, "#year").Value)

	loc, err := pg.Location(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://site.test/form", loc)
}

func TestUncaughtExceptionsReachErrors(t *testing.T) {
	pg := openPage(t)
	select {
	case e := <-pg.Errors():
		assert.Contains(t, e.Message, "late failure")
	case <-time.After(5 * time.Second):
		t.Fatal("no page error reported")
	}
}
