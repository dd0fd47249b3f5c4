package fixture

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sea-e2e/internal/page"
	"sea-e2e/internal/page/memdom"
)

// RegisterHTML is the markup of the registration page.
var RegisterHTML = mustRead("site/Register.html")

const (
	RegisterPath = "/Register.html"
	CountriesURL = "https://restcountries.eu/rest/v1/all"
	RegisterAPI  = "https://api.mlab.com/api/1/databases/userdetails/collections/newtable"
	RegisterKey  = "YXBpS2V5LWRlbW8"
)

func mustRead(name string) string {
	b, err := site.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Behaviors returns the page behaviors for the bundled sites, keyed by URL pattern.
func Behaviors() map[string]memdom.Behavior {
	return map[string]memdom.Behavior{
		"/**" + RegisterPath: Register,
	}
}

// Register emulates the registration page's scripts: the languages
// multiselect, the countries lists fed by the countries API, the searchable
// country combobox and the submit call. Like the live page it raises a
// missing-angular error at load and a cross-origin "Script error." shortly
// after.
func Register(s *memdom.Script) {
	s.ThrowAt("angular is not defined", s.URL().String(), 7)
	s.After(5*time.Millisecond, func() { s.ThrowAt("Script error.", "", 0) })

	fillRange(s.First("#yearbox"), 1916, 2015)
	fillRange(s.First("#daybox"), 1, 31)

	registerLanguages(s)
	registerCountries(s)
	registerSubmit(s)
}

func fillRange(sel *memdom.Node, from, to int) {
	if sel == nil {
		return
	}
	var b strings.Builder
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, `<option value="%d">%d</option>`, i, i)
	}
	_ = sel.AppendHTML(b.String())
}

func registerLanguages(s *memdom.Script) {
	const list = "ul.ui-autocomplete"
	s.On("#msdd", page.EventClick, func(*memdom.Event) {
		s.First(list).SetAttr("style", "display: block")
	})
	s.On(list+" a", page.EventClick, func(e *memdom.Event) {
		lang := e.Current.Text()
		box := s.First("#msdd")
		for _, item := range box.Find(".ui-autocomplete-multiselect-item") {
			if item.Text() == lang {
				item.Remove()
				return
			}
		}
		_ = box.AppendHTML(fmt.Sprintf(
			`<div class="ui-autocomplete-multiselect-item">%s<span class="ui-icon ui-icon-close"></span></div>`,
			html.EscapeString(lang)))
	})
	s.On("body", page.EventClick, func(e *memdom.Event) {
		if e.Target.Closest("#msdd, "+list) == nil {
			s.First(list).SetAttr("style", "display: none")
		}
	})
}

func registerCountries(s *memdom.Script) {
	s.Go(func(ctx context.Context) {
		status, body, err := s.FetchJSON(ctx, http.MethodGet, CountriesURL, nil)
		if ctx.Err() != nil {
			return
		}
		s.Update(func() {
			if err != nil || status != http.StatusOK {
				s.Throw(fmt.Sprintf("Failed to load countries (status %d): %v", status, err))
				return
			}
			items, _ := body.([]any)
			var opts, results strings.Builder
			for _, it := range items {
				m, _ := it.(map[string]any)
				name, _ := m["name"].(string)
				if name == "" {
					continue
				}
				esc := html.EscapeString(name)
				fmt.Fprintf(&opts, `<option value="%s">%s</option>`, esc, esc)
				fmt.Fprintf(&results, `<li class="select2-results__option" role="option">%s</li>`, esc)
			}
			_ = s.First("#countries").AppendHTML(opts.String())
			_ = s.First("#country").AppendHTML(opts.String())
			_ = s.First("ul.select2-results__options").SetHTML(results.String())
		})
	})

	s.On(`span[role="combobox"]`, page.EventClick, func(*memdom.Event) {
		s.First(".select2-dropdown").Show()
	})
	s.On("input.select2-search__field", page.EventInput, func(e *memdom.Event) {
		term := strings.ToLower(e.Current.Value())
		for _, li := range s.Find(".select2-results__option") {
			if strings.Contains(strings.ToLower(li.Text()), term) {
				li.Show()
			} else {
				li.Hide()
			}
		}
	})
	s.On(".select2-results__option", page.EventClick, func(e *memdom.Event) {
		name := e.Current.Text()
		s.First("#select2-country-container").SetText(name)
		s.First("#country").SetSelected([]string{name})
		s.First(".select2-dropdown").Hide()
	})
}

func registerSubmit(s *memdom.Script) {
	s.On("form", page.EventSubmit, func(e *memdom.Event) {
		e.PreventDefault()
		q := url.Values{}
		q.Set("apiKey", RegisterKey)
		if first := s.First(`input[ng-model="FirstName"]`); first != nil {
			q.Set("firstName", first.Value())
		}
		target := RegisterAPI + "?" + q.Encode()
		s.Go(func(ctx context.Context) {
			status, body, err := s.FetchJSON(ctx, http.MethodGet, target, nil)
			s.Update(func() {
				msg := s.First("#status")
				if err != nil {
					msg.SetText("Registration failed: " + err.Error())
				} else if m, ok := body.(map[string]any); ok {
					msg.SetText(fmt.Sprint(m["message"]))
				} else {
					msg.SetText("Registration returned status " + strconv.Itoa(status))
				}
				msg.Show()
			})
		})
	})
}
