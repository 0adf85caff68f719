package rest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/test"
	"github.com/pkg/errors"
)

// fakeAPI answers each endpoint with a fixed status and body, and records
// the form it was sent.
type fakeAPI struct {
	responses map[string]response
	forms     map[string]map[string]string
	auth      string
}

type response struct {
	status int
	body   string
}

func newFakeAPI(t *testing.T, responses map[string]response) (*fakeAPI, *Client, func()) {
	t.Helper()
	api := &fakeAPI{responses: responses, forms: make(map[string]map[string]string)}
	srv := httptest.NewServer(api)
	user := &datasift.User{
		Username:  "someone",
		APIKey:    "secret",
		APIHost:   strings.TrimPrefix(srv.URL, "http://"),
		UserAgent: "test-agent",
	}
	c, err := NewClient(user)
	test.ErrNil(t, err, "NewClient")
	return api, c, srv.Close
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.auth = r.Header.Get("Auth")
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	endpoint := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".json")
	form := make(map[string]string)
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	f.forms[endpoint] = form

	res, ok := f.responses[endpoint]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("X-RateLimit-Limit", "10000")
	w.Header().Set("X-RateLimit-Remaining", "9999")
	w.WriteHeader(res.status)
	fmt.Fprint(w, res.body)
}

func TestCompile(t *testing.T) {
	api, c, done := newFakeAPI(t, map[string]response{
		"compile": {200, `{"hash":"9fe133a7ee1bd2757f1e26bd78342458","created_at":"2011-05-12 11:18:07","dpu":0.1}`},
	})
	defer done()

	hash, err := c.Compile(`interaction.content contains "go"`)
	test.ErrNil(t, err, "Compile")
	test.MustBe(t, "9fe133a7ee1bd2757f1e26bd78342458", hash)
	test.MustBe(t, `interaction.content contains "go"`, api.forms["compile"]["csdl"])
	test.MustBe(t, "someone:secret", api.auth)

	limit, remaining := c.RateLimit()
	test.MustBe(t, 10000, limit)
	test.MustBe(t, 9999, remaining)
}

func TestCompileFailures(t *testing.T) {
	tests := []struct {
		name  string
		res   response
		cause error
	}{
		{name: "bad csdl", res: response{400, `{"error":"The target interactin.content does not exist"}`}, cause: datasift.ErrCompileFailed},
		{name: "no hash", res: response{200, `{"created_at":"2011-05-12 11:18:07","dpu":0.1}`}, cause: datasift.ErrCompileFailed},
		{name: "no created_at", res: response{200, `{"hash":"abc"}`}, cause: datasift.ErrCompileFailed},
	}
	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			_, c, done := newFakeAPI(t, map[string]response{"compile": tst.res})
			defer done()
			_, err := c.Compile("csdl")
			if errors.Cause(err) != tst.cause {
				t.Fatalf("expected %v, got %v", tst.cause, err)
			}
		})
	}
}

func TestCompileEmpty(t *testing.T) {
	_, c, done := newFakeAPI(t, nil)
	defer done()
	if _, err := c.Compile(""); errors.Cause(err) != datasift.ErrInvalidData {
		t.Fatalf("expected invalid data, got %v", err)
	}
}

func TestAccessDenied(t *testing.T) {
	_, c, done := newFakeAPI(t, map[string]response{
		"validate": {401, `{"error":"Authentication failed"}`},
	})
	defer done()

	_, err := c.Validate("csdl")
	aerr, ok := errors.Cause(err).(*datasift.APIError)
	if !ok {
		t.Fatalf("expected an APIError, got %T: %v", err, err)
	}
	test.MustBe(t, 401, aerr.StatusCode)
	test.MustBe(t, datasift.ErrAccessDenied, aerr.Err)
	test.MustBe(t, "Authentication failed", aerr.Message)
}

func TestValidate(t *testing.T) {
	_, c, done := newFakeAPI(t, map[string]response{
		"validate": {200, `{"created_at":"2011-05-12 11:18:07","dpu":0.1}`},
	})
	defer done()

	v, err := c.Validate("csdl")
	test.ErrNil(t, err, "Validate")
	test.MustBe(t, &Validation{CreatedAt: "2011-05-12 11:18:07", DPU: 0.1}, v)
}

func TestHistorics(t *testing.T) {
	api, c, done := newFakeAPI(t, map[string]response{
		"historics/prepare": {200, `{"id":"4ef7c852a96d6352764f","dpus":10.5,"availability":{}}`},
		"historics/start":   {204, ""},
		"historics/stop":    {404, `{"error":"Historic not found"}`},
	})
	defer done()

	start := time.Unix(1325548800, 0)
	h, err := c.HistoricsPrepare("abc", start, start.Add(time.Hour), "test", []string{"twitter", "facebook"})
	test.ErrNil(t, err, "HistoricsPrepare")
	test.MustBe(t, "4ef7c852a96d6352764f", h.PlaybackID)
	test.MustBe(t, "abc", h.StreamHash)
	test.MustBe(t, map[string]string{
		"hash":    "abc",
		"start":   "1325548800",
		"end":     "1325552400",
		"name":    "test",
		"sources": "twitter,facebook",
	}, api.forms["historics/prepare"])

	test.ErrNil(t, h.Start(), "Start")
	test.MustBe(t, "4ef7c852a96d6352764f", api.forms["historics/start"]["id"])

	if err := c.StopHistoric("missing"); errors.Cause(err) != datasift.ErrInvalidData {
		t.Fatalf("expected invalid data stopping a missing historic, got %v", err)
	}
}

func TestHistoricsPrepareValidates(t *testing.T) {
	_, c, done := newFakeAPI(t, nil)
	defer done()

	now := time.Now()
	if _, err := c.HistoricsPrepare("abc", now, now.Add(-time.Hour), "x", []string{"twitter"}); errors.Cause(err) != datasift.ErrInvalidData {
		t.Fatalf("expected invalid data for a backwards range, got %v", err)
	}
	if _, err := c.HistoricsPrepare("abc", now, now.Add(time.Hour), "x", nil); errors.Cause(err) != datasift.ErrInvalidData {
		t.Fatalf("expected invalid data without sources, got %v", err)
	}
}

func TestRateLimited(t *testing.T) {
	_, c, done := newFakeAPI(t, map[string]response{
		"historics/start": {429, `{"error":"Rate limit exceeded"}`},
	})
	defer done()

	err := c.StartHistoric("abc")
	aerr, ok := errors.Cause(err).(*datasift.APIError)
	if !ok {
		t.Fatalf("expected an APIError, got %T: %v", err, err)
	}
	test.MustBe(t, datasift.ErrRateLimited, aerr.Err)
}
