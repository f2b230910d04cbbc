package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"

	"timerfleet/model"
)

func TestAuthorize_NoTokenConfigured(t *testing.T) {
	s := &Server{authToken: ""}
	r := httptest.NewRequest(http.MethodGet, "/timers/abc", nil)
	if !s.authorize(r) {
		t.Fatal("expected authorize to pass when no token is configured")
	}
}

func TestAuthorize_QueryParam(t *testing.T) {
	s := &Server{authToken: "secret"}
	r := httptest.NewRequest(http.MethodGet, "/timers/abc?token=secret", nil)
	if !s.authorize(r) {
		t.Fatal("expected authorize to pass with matching query token")
	}
}

func TestAuthorize_BearerHeader(t *testing.T) {
	s := &Server{authToken: "secret"}
	r := httptest.NewRequest(http.MethodGet, "/timers/abc", nil)
	r.Header.Set("Authorization", "Bearer secret")
	if !s.authorize(r) {
		t.Fatal("expected authorize to pass with matching bearer token")
	}
}

func TestAuthorize_RejectsMismatch(t *testing.T) {
	s := &Server{authToken: "secret"}
	r := httptest.NewRequest(http.MethodGet, "/timers/abc?token=wrong", nil)
	if s.authorize(r) {
		t.Fatal("expected authorize to reject a mismatched token")
	}
}

func TestWriteError_MapsKnownCategories(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.Mark(errors.New("x"), model.ErrNotFound), http.StatusNotFound},
		{errors.Mark(errors.New("x"), model.ErrForbidden), http.StatusForbidden},
		{errors.Mark(errors.New("x"), model.ErrConflict), http.StatusConflict},
		{errors.Mark(errors.New("x"), model.ErrInvalid), http.StatusBadRequest},
		{errors.Mark(errors.New("x"), model.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		writeError(w, tc.err)
		if w.Code != tc.want {
			t.Errorf("writeError(%v) = %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}

func TestRequesterID_PrefersQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/timers/abc?userId=q1", nil)
	r.Header.Set("X-User-Id", "h1")
	if got := requesterID(r); got != "q1" {
		t.Fatalf("requesterID = %q, want q1", got)
	}
}

func TestRequesterID_FallsBackToHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/timers/abc", nil)
	r.Header.Set("X-User-Id", "h1")
	if got := requesterID(r); got != "h1" {
		t.Fatalf("requesterID = %q, want h1", got)
	}
}
