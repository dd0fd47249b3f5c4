package engine_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sea-e2e/internal/command"
	"sea-e2e/internal/config"
	"sea-e2e/internal/driver"
	"sea-e2e/internal/engine"
	"sea-e2e/internal/failure"
	"sea-e2e/internal/fixture"
	"sea-e2e/internal/intercept"
	"sea-e2e/internal/logging"
	"sea-e2e/internal/metrics"
	"sea-e2e/internal/page"
	"sea-e2e/internal/page/memdom"
	"sea-e2e/internal/policy"
)

const (
	siteURL     = "http://demo.automationtesting.in"
	registerURL = siteURL + fixture.RegisterPath
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.DefaultCommandTimeout = config.Duration(time.Second)
	cfg.RetryInterval = config.Duration(10 * time.Millisecond)
	cfg.TypeDelay = 0
	return cfg
}

func newEngine(cfg config.Config, behaviors map[string]memdom.Behavior, opts ...engine.Option) *engine.Engine {
	base := []engine.Option{
		engine.WithLogger(logging.Discard()),
		engine.WithPageFactory(engine.MemoryPages(behaviors)),
	}
	return engine.New(cfg, append(base, opts...)...)
}

func servePage(t *engine.T, url, markup string) {
	t.Intercept("GET "+url, intercept.Response{Body: markup, Headers: map[string]string{"Content-Type": "text/html"}})
}

// registerPage mocks the registration page and the countries API it calls.
func registerPage(t *engine.T) {
	servePage(t, registerURL, fixture.RegisterHTML)
	t.Intercept("GET "+fixture.CountriesURL, intercept.Response{Body: fixture.Countries}).As("countries")
}

func registerPolicy() *policy.Policy {
	return policy.New(policy.MessageContains("angular is not defined"), policy.CrossOriginScriptError())
}

func states(res engine.Result) []engine.CommandState {
	out := make([]engine.CommandState, len(res.Commands))
	for i, c := range res.Commands {
		out[i] = c.State
	}
	return out
}

func TestMockedRequestNeverReachesNetwork(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(http.StatusInternalServerError))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	cfg := testConfig()
	cfg.BaseURL = srv.URL
	e := newEngine(cfg, nil)

	res := e.Run(context.Background(), "available items", func(t *engine.T) {
		t.Intercept("GET /items?status=available", intercept.Response{
			Body: []map[string]any{{"id": 1, "status": "available"}},
		})
		t.Request("/items?status=available").
			Should("have.status", 200).
			Its("body").
			Should("each.have.property", "status", "available")
	})

	require.NoError(t, res.Err())
	assert.Len(t, requests, 0)
	require.Len(t, res.Interceptions, 1)
	assert.True(t, res.Interceptions[0].Mocked)
	assert.Equal(t, []engine.CommandState{
		engine.StatePassed, engine.StatePassed, engine.StatePassed, engine.StatePassed, engine.StatePassed,
	}, states(res))
}

func TestUnmatchedRequestPassesThrough(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithJSONResponse(map[string]any{"id": 7}, nil))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	e := newEngine(testConfig(), nil)
	res := e.Run(context.Background(), "passthrough", func(t *engine.T) {
		t.Spy("GET /pet/*").As("pet")
		t.Request(srv.URL + "/pet/7").Its("body.id").Should("eq", 7)
		t.Wait("@pet").Its("response.statusCode").Should("eq", 200)
	})

	require.NoError(t, res.Err())
	assert.Len(t, requests, 1)
	require.Len(t, res.Interceptions, 1)
	assert.False(t, res.Interceptions[0].Mocked)
	assert.Equal(t, "pet", res.Interceptions[0].Alias)
}

func TestFailureStatusAbortsTheRest(t *testing.T) {
	srv := httptest.NewServer(httphelpers.HandlerWithStatus(http.StatusNotFound))
	defer srv.Close()

	var ran bool
	e := newEngine(testConfig(), nil)
	res := e.Run(context.Background(), "missing pet", func(t *engine.T) {
		t.Request(srv.URL + "/pet/0").Should("have.status", 404)
		t.Request(srv.URL + "/pet/1").Then(func(command.Subject) error {
			ran = true
			return nil
		})
	})

	require.Error(t, res.Err())
	assert.True(t, res.Is(failure.KindRequestFailed))
	assert.ErrorIs(t, res.Err(), failure.ErrRequestFailed)
	assert.Equal(t, []engine.CommandState{
		engine.StateFailed, engine.StateSkipped, engine.StateSkipped, engine.StateSkipped,
	}, states(res))
	assert.False(t, ran)
	assert.Contains(t, res.Failure.Subject, "404")
}

func TestAllowFailureStatus(t *testing.T) {
	srv := httptest.NewServer(httphelpers.HandlerWithStatus(http.StatusNotFound))
	defer srv.Close()

	res := newEngine(testConfig(), nil).Run(context.Background(), "deleted pet", func(t *engine.T) {
		t.Request("DELETE "+srv.URL+"/pet/0", engine.AllowFailureStatus()).Should("have.status", 404)
	})
	require.NoError(t, res.Err())
}

func TestRequestSendsJSONBodyAndHeaders(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(http.StatusOK))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	res := newEngine(testConfig(), nil).Run(context.Background(), "new pet", func(t *engine.T) {
		t.Request("POST "+srv.URL+"/v2/pet",
			engine.Body(map[string]any{"id": 5, "name": "doggie"}),
			engine.Header("api_key", "special-key"))
	})
	require.NoError(t, res.Err())

	req := <-requests
	assert.Equal(t, "POST", req.Request.Method)
	assert.Equal(t, "application/json", req.Request.Header.Get("Content-Type"))
	assert.Equal(t, "special-key", req.Request.Header.Get("api_key"))
	assert.JSONEq(t, `{"id":5,"name":"doggie"}`, string(req.Body))
}

func TestRelativeURLWithoutBaseIsInvalid(t *testing.T) {
	res := newEngine(testConfig(), nil).Run(context.Background(), "relative", func(t *engine.T) {
		t.Request("/pet/1")
	})
	assert.True(t, res.Is(failure.KindInvalidCommand))
}

func TestTypedValueIsReadLive(t *testing.T) {
	e := newEngine(testConfig(), fixture.Behaviors())
	res := e.Run(context.Background(), "type into bound input", func(t *engine.T) {
		t.OnUncaughtException(registerPolicy())
		registerPage(t)
		t.Visit(registerURL)
		t.Get(`input[ng-model="FirstName"]`).Type("abc").Should("have.value", "abc")
	})
	require.NoError(t, res.Err())
}

func TestAssertionWaitsForLateElement(t *testing.T) {
	late := func(s *memdom.Script) {
		s.After(150*time.Millisecond, func() {
			msg := s.First("#status")
			msg.SetText("saved")
			msg.Show()
		})
	}
	e := newEngine(testConfig(), map[string]memdom.Behavior{"/**/late.html": late})
	res := e.Run(context.Background(), "late element", func(t *engine.T) {
		servePage(t, siteURL+"/late.html", `<html><body><p id="status" hidden></p></body></html>`)
		t.Visit(siteURL + "/late.html")
		t.Get("#status").Should("be.visible").And("have.text", "saved")
	})
	require.NoError(t, res.Err())
	assert.Positive(t, res.Commands[2].Retries+res.Commands[3].Retries)
}

func TestAssertionTimeoutIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultCommandTimeout = config.Duration(200 * time.Millisecond)
	e := newEngine(cfg, nil)

	start := time.Now()
	res := e.Run(context.Background(), "never saved", func(t *engine.T) {
		servePage(t, siteURL+"/static.html", `<html><body><p id="status">pending</p></body></html>`)
		t.Visit(siteURL + "/static.html")
		t.Get("#status").Should("have.text", "saved")
		t.Log("unreachable")
	})
	elapsed := time.Since(start)

	require.Error(t, res.Err())
	assert.True(t, res.Is(failure.KindAssertionTimeout))
	assert.Contains(t, res.Failure.Description, "saved")
	assert.Contains(t, res.Failure.Subject, "pending")
	assert.Less(t, elapsed, 200*time.Millisecond+10*time.Millisecond+300*time.Millisecond)
	assert.Equal(t, engine.StateSkipped, res.Commands[len(res.Commands)-1].State)
}

func TestMissingElementFailsAsElementNotFound(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultCommandTimeout = config.Duration(100 * time.Millisecond)
	res := newEngine(cfg, nil).Run(context.Background(), "missing", func(t *engine.T) {
		servePage(t, siteURL+"/static.html", `<html><body></body></html>`)
		t.Visit(siteURL + "/static.html")
		t.Get("#nope").Click()
	})
	assert.True(t, res.Is(failure.KindElementNotFound))
	assert.Equal(t, "get(\"#nope\")", res.Failure.Command)
}

func TestNegativeExistenceSkipsTheWait(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultCommandTimeout = config.Duration(2 * time.Second)
	start := time.Now()
	res := newEngine(cfg, nil).Run(context.Background(), "absent", func(t *engine.T) {
		servePage(t, siteURL+"/static.html", `<html><body></body></html>`)
		t.Visit(siteURL + "/static.html")
		t.Get("#nope").Should("not.exist")
	})
	require.NoError(t, res.Err())
	assert.Less(t, time.Since(start), time.Second)
}

func TestSuppressedScriptErrorDoesNotFailTheTest(t *testing.T) {
	crossOrigin := func(s *memdom.Script) {
		s.After(5*time.Millisecond, func() { s.ThrowAt("Script error.", "", 0) })
	}
	e := newEngine(testConfig(), map[string]memdom.Behavior{"/**/ads.html": crossOrigin})
	res := e.Run(context.Background(), "third-party script", func(t *engine.T) {
		t.OnUncaughtException(policy.New(policy.MessageContains("Script error.")))
		servePage(t, siteURL+"/ads.html", `<html><body><p id="ok">ok</p></body></html>`)
		t.Visit(siteURL + "/ads.html")
		t.Wait("50ms")
		t.Get("#ok").Should("have.text", "ok")
	})
	require.NoError(t, res.Err())
	require.Len(t, res.SuppressedErrors, 1)
	assert.Equal(t, "Script error.", res.SuppressedErrors[0].Message)
}

func TestUnsuppressedPageErrorFails(t *testing.T) {
	e := newEngine(testConfig(), fixture.Behaviors())
	res := e.Run(context.Background(), "no policy", func(t *engine.T) {
		registerPage(t)
		t.Visit(registerURL)
		t.Get("#firstpassword").Type("secret")
	})
	require.Error(t, res.Err())
	assert.True(t, res.Is(failure.KindUnhandledPageException))
	assert.Contains(t, res.Failure.Message, "angular is not defined")
	assert.Equal(t, engine.StateSkipped, res.Commands[len(res.Commands)-1].State)
}

func TestNarrowScriptErrorRuleIgnoresOtherErrors(t *testing.T) {
	e := newEngine(testConfig(), fixture.Behaviors())
	res := e.Run(context.Background(), "only cross-origin", func(t *engine.T) {
		t.OnUncaughtException(policy.New(policy.CrossOriginScriptError()))
		registerPage(t)
		t.Visit(registerURL)
	})
	assert.True(t, res.Is(failure.KindUnhandledPageException))
}

func TestLaterPolicyReplacesEarlier(t *testing.T) {
	e := newEngine(testConfig(), fixture.Behaviors())
	res := e.Run(context.Background(), "replaced policy", func(t *engine.T) {
		t.OnUncaughtException(policy.New())
		t.OnUncaughtException(registerPolicy())
		registerPage(t)
		t.Visit(registerURL)
		t.Wait("20ms")
	})
	require.NoError(t, res.Err())
	assert.Len(t, res.SuppressedErrors, 2)
}

func TestWaitForAliasWithoutHitIsNetworkMismatch(t *testing.T) {
	res := newEngine(testConfig(), nil).Run(context.Background(), "never called", func(t *engine.T) {
		t.Intercept("GET /never", intercept.Response{}).As("never")
		t.Wait("@never", engine.Timeout(100*time.Millisecond))
	})
	assert.True(t, res.Is(failure.KindNetworkMismatch))
	assert.ErrorIs(t, res.Err(), failure.ErrNetworkMismatch)
}

func TestAuthoringErrorRunsNothing(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(http.StatusOK))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	for name, body := range map[string]func(t *engine.T){
		"bad selector": func(t *engine.T) {
			t.Request(srv.URL)
			t.Get("div[")
		},
		"bad chainer": func(t *engine.T) {
			t.Request(srv.URL).Should("be.fluffy")
		},
		"bad keys": func(t *engine.T) {
			t.Request(srv.URL)
			t.Get("input").Type("{tab}")
		},
		"bad wait": func(t *engine.T) {
			t.Request(srv.URL)
			t.Wait("soon")
		},
		"panic": func(t *engine.T) {
			t.Request(srv.URL)
			panic("boom")
		},
	} {
		t.Run(name, func(t *testing.T) {
			res := newEngine(testConfig(), nil).Run(context.Background(), name, body)
			require.Error(t, res.Err())
			assert.True(t, res.Is(failure.KindInvalidCommand))
			assert.ErrorIs(t, res.Err(), engine.ErrAuthoring)
			for _, c := range res.Commands {
				assert.Equal(t, engine.StateSkipped, c.State)
			}
		})
	}
	assert.Len(t, requests, 0)
}

func TestCancelledContextStopsTheQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	res := newEngine(testConfig(), nil).Run(ctx, "cancelled", func(t *engine.T) {
		t.Wait("5s")
		t.Log("after")
	})
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.Is(failure.KindTimeout))
	assert.Equal(t, []engine.CommandState{engine.StateFailed, engine.StateSkipped}, states(res))
}

const handlesHTML = `<html><body>
<input id="cb" type="checkbox">
<input id="name" type="text">
<button id="lock">Lock</button>
<select id="size"><option value="s">Small</option></select>
<button id="more">More</button>
</body></html>`

func handlesEngine(cfg config.Config) *engine.Engine {
	return newEngine(cfg, map[string]memdom.Behavior{"/**/handles.html": func(s *memdom.Script) {
		s.On("#lock", page.EventClick, func(*memdom.Event) { s.First("#name").SetEnabled(false) })
		s.On("#more", page.EventClick, func(*memdom.Event) {
			_ = s.First("#size").AppendHTML(`<option value="m">Medium</option>`)
		})
	}})
}

func visitHandles(t *engine.T) {
	servePage(t, siteURL+"/handles.html", handlesHTML)
	t.Visit(siteURL + "/handles.html")
}

func TestCheckTwiceOnOneHandle(t *testing.T) {
	res := handlesEngine(testConfig()).Run(context.Background(), "check twice", func(t *engine.T) {
		visitHandles(t)
		cb := t.Get("#cb")
		cb.Check()
		cb.Check()
		t.Get("#cb").Should("be.checked")
	})
	require.NoError(t, res.Err(), "%v", res.Commands)
}

func TestUncheckThroughHandleTakenBeforeCheck(t *testing.T) {
	res := handlesEngine(testConfig()).Run(context.Background(), "uncheck old handle", func(t *engine.T) {
		visitHandles(t)
		cb := t.Get("#cb")
		t.Get("#cb").Check().Should("be.checked")
		cb.Uncheck()
		t.Get("#cb").Should("not.be.checked")
	})
	require.NoError(t, res.Err(), "%v", res.Commands)
}

func TestTypeSeesValueTypedThroughAnotherHandle(t *testing.T) {
	res := handlesEngine(testConfig()).Run(context.Background(), "type twice", func(t *engine.T) {
		visitHandles(t)
		name := t.Get("#name")
		t.Get("#name").Type("ab")
		name.Type("c").Should("have.value", "abc")
	})
	require.NoError(t, res.Err(), "%v", res.Commands)
}

func TestTypeIntoElementDisabledAfterQuery(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultCommandTimeout = config.Duration(150 * time.Millisecond)
	res := handlesEngine(cfg).Run(context.Background(), "type disabled", func(t *engine.T) {
		visitHandles(t)
		name := t.Get("#name")
		t.Get("#lock").Click()
		name.Type("abc")
	})
	require.Error(t, res.Err())
	assert.True(t, res.Is(failure.KindElementNotFound), "%v", res.Failure)
	assert.Contains(t, res.Failure.Message, "disabled")
	assert.Equal(t, engine.StateFailed, res.Commands[len(res.Commands)-1].State)
}

func TestSelectOptionAddedAfterQuery(t *testing.T) {
	res := handlesEngine(testConfig()).Run(context.Background(), "select late option", func(t *engine.T) {
		visitHandles(t)
		size := t.Get("#size")
		t.Get("#more").Click()
		size.Select("Medium").Should("have.value", "m")
	})
	require.NoError(t, res.Err(), "%v", res.Commands)
}

func TestContainsClicksFirstMatch(t *testing.T) {
	const menu = `<html><body>
<div class="menu"><a id="en">English</a><a id="uk">English (UK)</a></div>
<p id="chosen"></p>
</body></html>`
	e := newEngine(testConfig(), map[string]memdom.Behavior{"/**/langs.html": func(s *memdom.Script) {
		s.On(".menu a", page.EventClick, func(ev *memdom.Event) {
			s.First("#chosen").SetText(ev.Target.Attr("id"))
		})
	}})
	res := e.Run(context.Background(), "first match", func(t *engine.T) {
		servePage(t, siteURL+"/langs.html", menu)
		t.Visit(siteURL + "/langs.html")
		t.Get(".menu").Contains("English").Click()
		t.Get("#chosen").Should("have.text", "en")
		t.Contains("", "English").Should("have.attr", "id", "en")
	})
	require.NoError(t, res.Err(), "%v", res.Commands)
}

func TestRegisterForm(t *testing.T) {
	e := newEngine(testConfig(), fixture.Behaviors())
	res := e.Run(context.Background(), "register", func(t *engine.T) {
		t.OnUncaughtException(registerPolicy())
		registerPage(t)
		t.Visit(registerURL)
		t.Wait("@countries")
		t.URL().Should("include", fixture.RegisterPath)

		t.Get(`input[ng-model="FirstName"]`).Type("Ada").Should("have.value", "Ada")
		t.Get(`input[ng-model="LastName"]`).Type("Lovelace{backspace}{backspace}{backspace}{backspace}").
			Should("have.value", "Love")
		t.Get(`input[type="checkbox"]`).Check().Should("be.checked")
		t.Get(`input[type="checkbox"]`).Check().Should("be.checked")
		t.Get(`input[value="FeMale"]`).Check().Should("be.checked")
		t.Get("#Skills").Select("Java").Should("have.value", "Java")
		t.Get("#countries").Select("France").Invoke("val").Should("eq", "France")
		t.Get("#msdd").Pick(driver.PickSpec{Within: "ul.ui-autocomplete", Items: []string{"English", "Spanish"}})
		t.Get("#msdd").Contains("Spanish").Should("exist")
		t.Get("#firstpassword").Type("s3cret").Invoke("attr:ng-model").Should("eq", "Password")
	})
	require.NoError(t, res.Err(), "%v", res.Commands)
}

func TestMetricsCountCommands(t *testing.T) {
	m := metrics.New()
	e := newEngine(testConfig(), nil, engine.WithMetrics(m))
	res := e.Run(context.Background(), "metrics", func(t *engine.T) {
		t.Intercept("GET https://api.test/ping", intercept.Response{Body: "pong"})
		t.Request("https://api.test/ping").Its("body").Should("eq", "pong")
	})
	require.NoError(t, res.Err())

	n, err := testutil.GatherAndCount(m.Registry(), "sea_e2e_commands_total")
	require.NoError(t, err)
	assert.Positive(t, n)
	n, err = testutil.GatherAndCount(m.Registry(), "sea_e2e_intercept_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
