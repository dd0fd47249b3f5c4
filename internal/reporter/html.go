package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"sea-e2e/internal/engine"
	"sea-e2e/internal/executor"
)

func WriteHTML(w io.Writer, suiteName string, res *executor.SuiteResult) error {
	var sb strings.Builder

	sb.WriteString(`<!doctype html><html lang="en"><head><meta charset="utf-8">`)
	sb.WriteString(`<meta name="viewport" content="width=device-width,initial-scale=1">`)
	sb.WriteString(`<title>sea-e2e Report: ` + html.EscapeString(suiteName) + `</title>`)
	sb.WriteString(`<style>
:root { --ok:#0a0; --bad:#b00; --muted:#666; --chip:#eee; --line:#e5e5e5; }
body{font-family:system-ui,Segoe UI,Roboto,Arial,sans-serif;margin:24px;line-height:1.45}
h1{margin:0 0 12px}
h2{margin:0 0 8px;font-size:1.05rem}
.summary{display:flex;gap:12px;align-items:center;margin:12px 0 18px}
.pass{color:var(--ok)} .fail{color:var(--bad)} .skipped{color:var(--muted)}
.badge{display:inline-block;padding:2px 8px;border-radius:999px;background:var(--chip);font-size:.85rem}
.card{border:1px solid var(--line);border-radius:12px;padding:16px;margin:12px 0}
table.log{border-collapse:collapse;width:100%;font-family:ui-monospace,monospace;font-size:.85rem}
table.log td{border-top:1px solid var(--line);padding:4px 6px;vertical-align:top}
details>summary{cursor:pointer;list-style:none}
details>summary::-webkit-details-marker{display:none}
summary {padding:6px 0}
pre{background:#f8f8f8;padding:12px;border-radius:8px;overflow:auto;max-height:320px;margin:8px 0 0;white-space:pre-wrap}
.muted{color:var(--muted)}
hr{border:0;border-top:1px solid var(--line);margin:20px 0}
.small{font-size:.85rem}
</style></head><body>`)

	passed, failed := res.Counts()

	// Header
	sb.WriteString(`<h1>` + html.EscapeString(suiteName) + `</h1>`)
	sb.WriteString(`<div class="summary">`)
	sb.WriteString(`<div>Status: <strong class="` + statusClass(res.Passed) + `">` + tern(res.Passed, "PASS", "FAIL") + `</strong></div>`)
	sb.WriteString(chip("Duration: " + ms(res.Duration)))
	sb.WriteString(chip("Passed: " + strconv.Itoa(passed)))
	sb.WriteString(chip("Failed: " + strconv.Itoa(failed)))
	if len(res.Skipped) > 0 {
		sb.WriteString(chip("Skipped: " + strconv.Itoa(len(res.Skipped))))
	}
	sb.WriteString(`</div><hr>`)

	// Scenarios
	for _, sc := range res.Scenarios {
		sb.WriteString(`<div class="card">`)
		sb.WriteString(`<h2>` + html.EscapeString(sc.Name) + ` ` + badgeStatus(sc.Passed) + ` ` + chip(ms(sc.Duration)) + `</h2>`)

		if f := sc.Failure; f != nil {
			sb.WriteString(`<pre class="fail">` + html.EscapeString(failureText(f)) + `</pre>`)
		}
		for _, e := range sc.HookErrors {
			sb.WriteString(`<div class="small fail">hook: ` + html.EscapeString(e) + `</div>`)
		}

		writeCommands(&sb, sc.Commands)

		if len(sc.Interceptions) > 0 {
			sb.WriteString(`<details><summary class="small muted">Network (` + strconv.Itoa(len(sc.Interceptions)) + `)</summary>`)
			for _, rec := range sc.Interceptions {
				line := fmt.Sprintf("%s %s -> %d", rec.Method, rec.URL, rec.Status)
				if rec.Alias != "" {
					line += " @" + rec.Alias
				}
				if rec.Mocked {
					line += " (mocked)"
				}
				sb.WriteString(`<details><summary class="small">` + html.EscapeString(line) + `</summary>`)
				if len(rec.RequestHeaders) > 0 {
					sb.WriteString(`<pre>` + html.EscapeString(hdrBlock(rec.RequestHeaders)) + `</pre>`)
				}
				if rec.RequestBody != "" {
					sb.WriteString(`<pre>` + html.EscapeString(prettyJSON(rec.RequestBody)) + `</pre>`)
				}
				if rec.ResponseBody != "" {
					sb.WriteString(`<pre>` + html.EscapeString(prettyJSON(rec.ResponseBody)) + `</pre>`)
				}
				if rec.Error != "" {
					sb.WriteString(`<pre class="fail">` + html.EscapeString(rec.Error) + `</pre>`)
				}
				sb.WriteString(`</details>`)
			}
			sb.WriteString(`</details>`)
		}

		if len(sc.SuppressedErrors) > 0 {
			sb.WriteString(`<details><summary class="small muted">Ignored page errors (` + strconv.Itoa(len(sc.SuppressedErrors)) + `)</summary><pre>`)
			for _, pe := range sc.SuppressedErrors {
				sb.WriteString(html.EscapeString(pe.Error()) + "\n")
			}
			sb.WriteString(`</pre></details>`)
		}

		if td := sc.Teardown; td != nil {
			sb.WriteString(`<details ` + tern(!td.Passed, "open", "") + `><summary class="small muted">Teardown ` + badgeStatus(td.Passed) + `</summary>`)
			writeCommands(&sb, td.Commands)
			sb.WriteString(`</details>`)
		}
		sb.WriteString(`</div>`)
	}

	for _, name := range res.Skipped {
		sb.WriteString(`<div class="card skipped">` + html.EscapeString(name) + ` <span class="badge">SKIPPED</span></div>`)
	}

	sb.WriteString(`</body></html>`)
	_, err := io.WriteString(w, sb.String())
	return err
}

func writeCommands(sb *strings.Builder, cmds []engine.CommandResult) {
	if len(cmds) == 0 {
		return
	}
	sb.WriteString(`<table class="log">`)
	for i, c := range cmds {
		sb.WriteString(`<tr class="` + stateClass(c.State) + `">`)
		sb.WriteString(`<td>` + strconv.Itoa(i+1) + `</td>`)
		sb.WriteString(`<td>` + html.EscapeString(c.Name) + `</td>`)
		sb.WriteString(`<td>` + html.EscapeString(c.Subject) + `</td>`)
		dur := ""
		if c.State != engine.StateSkipped {
			dur = ms(c.Duration)
		}
		sb.WriteString(`<td class="muted">` + dur + `</td>`)
		sb.WriteString(`</tr>`)
		if c.Error != "" {
			sb.WriteString(`<tr><td></td><td colspan="3"><pre>` + html.EscapeString(c.Error) + `</pre></td></tr>`)
		}
	}
	sb.WriteString(`</table>`)
}

// --- Helper that guarantees HTML matches the on-disk results.json ---

func WriteHTMLFromJSONPath(w io.Writer, suiteName, resultsJSONPath string) error {
	data, err := os.ReadFile(resultsJSONPath)
	if err != nil {
		return fmt.Errorf("read results.json: %w", err)
	}
	var res executor.SuiteResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("decode results.json: %w", err)
	}
	return WriteHTML(w, suiteName, &res)
}

func statusClass(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

func stateClass(s engine.CommandState) string {
	switch s {
	case engine.StatePassed:
		return "pass"
	case engine.StateFailed:
		return "fail"
	}
	return "skipped"
}

func badgeStatus(ok bool) string {
	if ok {
		return `<span class="badge pass">PASS</span>`
	}
	return `<span class="badge fail">FAIL</span>`
}

func chip(text string) string {
	return `<span class="badge">` + html.EscapeString(text) + `</span>`
}

func ms(d time.Duration) string { return fmt.Sprintf("%d ms", d.Milliseconds()) }

func tern[T ~string](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

func hdrBlock(h map[string][]string) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(strings.Join(h[k], ", "))
		b.WriteByte('\n')
	}
	return b.String()
}

func prettyJSON(s string) string {
	var buf bytes.Buffer
	var raw any
	if json.Unmarshal([]byte(s), &raw) == nil {
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		_ = enc.Encode(raw)
		return strings.TrimRight(buf.String(), "\n")
	}
	return s
}
