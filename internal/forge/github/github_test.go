package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/forgeerr"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prev := apiBase
	apiBase = srv.URL
	t.Cleanup(func() { apiBase = prev })

	a, err := New(forge.Config{Token: "t"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a.(*adapter)
}

func TestUpdateIssueState_ConflictMapsToErrConflict(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"expected state does not match"}`))
	})

	err := a.UpdateIssueState(context.Background(), "acme/widgets", "42", forge.StateClosed)
	if !errors.Is(err, forgeerr.ErrConflict) {
		t.Fatalf("UpdateIssueState() error = %v, want forgeerr.ErrConflict", err)
	}
}

func TestAddLabel_NotFoundMapsToErrNotFound(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := a.AddLabel(context.Background(), "acme/widgets", "42", "bug")
	if !errors.Is(err, forgeerr.ErrNotFound) {
		t.Fatalf("AddLabel() error = %v, want forgeerr.ErrNotFound", err)
	}
}
