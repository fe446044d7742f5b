package ascii

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rfchamber/fswlab/generichttp"
)

type echo struct{}

func (echo) Raw(s string) (string, error) {
	if s == "" {
		return "", errors.New("empty command")
	}
	return strings.ToLower(s), nil
}

type echoWithErrors struct{ echo }

func (echoWithErrors) Errors() (string, error) { return `0,"No error"`, nil }

func TestHTTPRaw(t *testing.T) {
	h := HTTPRaw(echo{})
	cases := []struct {
		body, want string
		code       int
	}{
		{`{"str":"*IDN?"}`, `{"str":"*idn?"}`, http.StatusOK},
		{`{"str":""}`, "", http.StatusInternalServerError},
		{`*IDN?`, "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader(tc.body)))
		if w.Code != tc.code {
			t.Errorf("%s: expected %d got %d", tc.body, tc.code, w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); tc.want != "" && got != tc.want {
			t.Errorf("%s: expected %s got %s", tc.body, tc.want, got)
		}
	}
}

func TestInjectErrorsOnlyWhenReported(t *testing.T) {
	errs := generichttp.MethodPath{Method: http.MethodGet, Path: "/errors"}

	rt := generichttp.RouteTable{}
	InjectRawComm(rt, echo{})
	if _, ok := rt[errs]; ok {
		t.Error("expected no /errors route for a device without an error queue")
	}

	rt = generichttp.RouteTable{}
	InjectRawComm(rt, echoWithErrors{})
	h, ok := rt[errs]
	if !ok {
		t.Fatal("expected an /errors route")
	}
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/errors", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `{"str":"0,\"No error\""}` {
		t.Errorf("unexpected body %s", got)
	}
}
