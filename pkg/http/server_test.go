package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type routes func(e *echo.Echo)

func (r routes) RegisterRoutes(e *echo.Echo) { r(e) }

type sample struct {
	Name  string `json:"name" validate:"required"`
	Limit int    `json:"limit" default:"10" validate:"gte=1,lte=100"`
}

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := routes(func(e *echo.Echo) {
		e.GET("/boom", func(echo.Context) error { panic("kaboom") })
		e.GET("/app-error", func(c echo.Context) error { return ServiceUnavailableError("model offline") })
		e.POST("/sample", func(c echo.Context) error {
			req := &sample{}
			if verr := ReadAndValidateRequest(c, req); verr != nil {
				return BadRequestResponse(c, verr)
			}
			return SuccessResponse(c, req)
		})
	})
	return NewServer([]Handler{h, nil}, WithRegistry(reg, reg), WithCORS(false)), reg
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestServerEnvelopes(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "panic", method: http.MethodGet, path: "/boom", status: http.StatusInternalServerError},
		{name: "app error", method: http.MethodGet, path: "/app-error", status: http.StatusServiceUnavailable},
		{name: "unknown route", method: http.MethodGet, path: "/nope", status: http.StatusNotFound},
		{name: "validation", method: http.MethodPost, path: "/sample", body: `{"limit":500}`, status: http.StatusBadRequest},
		{name: "ok with defaults", method: http.MethodPost, path: "/sample", body: `{"name":"x"}`, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			s.Echo().ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			body := decode(t, rec)
			if int(body["status"].(float64)) != tt.status {
				t.Fatalf("envelope status = %v", body["status"])
			}
			if body["message"] != http.StatusText(tt.status) {
				t.Fatalf("envelope message = %v", body["message"])
			}
		})
	}
}

func TestServerDefaultsAndValidationDetail(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sample", strings.NewReader(`{"name":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	s.Echo().ServeHTTP(rec, req)
	data := decode(t, rec)["data"].(map[string]interface{})
	if data["limit"].(float64) != 10 {
		t.Fatalf("default not applied: %v", data)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/sample", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	s.Echo().ServeHTTP(rec, req)
	errs := decode(t, rec)["data"].([]interface{})
	first := errs[0].(map[string]interface{})
	if first["code"] != "ERR_REQUIRED" || first["field"] != "name" {
		t.Fatalf("unexpected validation detail %v", first)
	}
}

func TestServerRecordsMetrics(t *testing.T) {
	s, reg := newTestServer(t)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app-error", nil))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "storyrisk_http_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == "/app-error" && labels["status"] == "503" && m.GetCounter().GetValue() == 2 {
				return
			}
		}
	}
	t.Fatalf("request counter for /app-error not found")
}
