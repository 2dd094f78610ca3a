package devkit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// Route scripts one endpoint of a FakeAPI. Handler, when set, wins over the
// static Status and Body.
type Route struct {
	Status      int
	Body        string
	ContentType string
	Handler     func(r *http.Request, body string) (int, string)
}

type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   string
}

// FakeAPI is a scripted provider HTTP API for tests. Unscripted routes answer
// 404.
type FakeAPI struct {
	mu       sync.Mutex
	server   *httptest.Server
	routes   map[string]Route
	requests []RecordedRequest
}

func NewFakeAPI() *FakeAPI {
	api := &FakeAPI{routes: map[string]Route{}}
	api.server = httptest.NewServer(http.HandlerFunc(api.serve))
	return api
}

func (a *FakeAPI) Handle(method string, path string, route Route) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes[routeKey(method, path)] = route
}

func (a *FakeAPI) JSON(method string, path string, status int, body string) {
	a.Handle(method, path, Route{Status: status, Body: body, ContentType: "application/json"})
}

func (a *FakeAPI) URL() string {
	return a.server.URL
}

func (a *FakeAPI) Client() *http.Client {
	return a.server.Client()
}

func (a *FakeAPI) Close() {
	a.server.Close()
}

// Requests returns the recorded requests for path, or all requests when path
// is empty.
func (a *FakeAPI) Requests(path string) []RecordedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RecordedRequest, 0, len(a.requests))
	for _, req := range a.requests {
		if path == "" || req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func (a *FakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	recorded := RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   string(body),
	}

	a.mu.Lock()
	a.requests = append(a.requests, recorded)
	route, ok := a.routes[routeKey(r.Method, r.URL.Path)]
	a.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found"}`))
		return
	}

	status, payload := route.Status, route.Body
	if route.Handler != nil {
		status, payload = route.Handler(r, string(body))
	}
	if status == 0 {
		status = http.StatusOK
	}
	contentType := route.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func routeKey(method string, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(path)
}
