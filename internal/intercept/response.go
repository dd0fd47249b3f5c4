package intercept

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AllowOriginHeader is added to every mocked response that does not set it.
const AllowOriginHeader = "Access-Control-Allow-Origin"

var ErrForcedNetworkError = errors.New("forced network error")

// Response declares a programmed reply. The zero value is an empty 200.
type Response struct {
	StatusCode int               `json:"statusCode,omitempty" yaml:"statusCode,omitempty"`
	Body       any               `json:"body,omitempty" yaml:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Fixture names a file under the fixtures folder used as the body.
	Fixture           string        `json:"fixture,omitempty" yaml:"fixture,omitempty"`
	Delay             time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	ForceNetworkError bool          `json:"forceNetworkError,omitempty" yaml:"forceNetworkError,omitempty"`
	// Reply computes the response per request and overrides the static fields.
	Reply func(*http.Request) Response `json:"-" yaml:"-"`
}

// Render synthesizes the HTTP response for req.
func (r Response) Render(req *http.Request, fixturesDir string) (*http.Response, []byte, error) {
	if r.Reply != nil {
		next := r.Reply(req)
		next.Reply = nil
		return next.Render(req, fixturesDir)
	}
	if r.ForceNetworkError {
		return nil, nil, ErrForcedNetworkError
	}

	body, contentType, err := r.encodeBody(fixturesDir)
	if err != nil {
		return nil, nil, err
	}

	status := r.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	hdr := make(http.Header, len(r.Headers)+3)
	for k, v := range r.Headers {
		hdr.Set(k, v)
	}
	if hdr.Get(AllowOriginHeader) == "" {
		hdr.Set(AllowOriginHeader, "*")
	}
	if hdr.Get("Content-Type") == "" && contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	hdr.Set("Content-Length", strconv.Itoa(len(body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        hdr,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, body, nil
}

func (r Response) encodeBody(fixturesDir string) ([]byte, string, error) {
	if r.Fixture != "" {
		path := r.Fixture
		if !filepath.IsAbs(path) && fixturesDir != "" {
			path = filepath.Join(fixturesDir, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("read fixture: %w", err)
		}
		ct := ""
		if strings.EqualFold(filepath.Ext(path), ".json") {
			ct = "application/json"
		}
		return b, ct, nil
	}
	switch b := r.Body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("json marshal body: %w", err)
		}
		return buf, "application/json", nil
	}
}
