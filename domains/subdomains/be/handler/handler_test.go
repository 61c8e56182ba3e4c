package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/domains/subdomains/be/service"
)

// stubRepo answers only the lookups validation needs; everything else is
// unreachable from these tests.
type stubRepo struct {
	entries map[string]service.Subdomain
	taken   map[string]bool
}

func (s *stubRepo) Claim(context.Context, string, time.Time) (service.Subdomain, bool, error) {
	return service.Subdomain{}, false, nil
}

func (s *stubRepo) ActiveReservation(context.Context, string, time.Time) (service.Subdomain, bool, error) {
	return service.Subdomain{}, false, nil
}

func (s *stubRepo) InsertReserved(context.Context, string, string, time.Time) (service.Subdomain, error) {
	return service.Subdomain{}, nil
}

func (s *stubRepo) InsertAvailable(context.Context, []string) (int64, error) { return 0, nil }

func (s *stubRepo) Get(_ context.Context, name string) (service.Subdomain, bool, error) {
	entry, ok := s.entries[name]
	return entry, ok, nil
}

func (s *stubRepo) Allocate(context.Context, string, int64) (service.Subdomain, error) {
	return service.Subdomain{}, nil
}

func (s *stubRepo) NameTaken(context.Context, string) (bool, error) { return false, nil }

func (s *stubRepo) WebsiteSubdomainExists(_ context.Context, name string) (bool, error) {
	return s.taken[name], nil
}

func (s *stubRepo) Counts(context.Context) (int64, int64, error) { return 0, 0, nil }

func (s *stubRepo) ReclaimExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func newTestRouter(repo service.Repository) chi.Router {
	r := chi.NewRouter()
	New(service.New(repo, zap.NewNop()), zap.NewNop()).Register(r)
	return r
}

func postValidate(t *testing.T, router chi.Router, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/subdomains/validate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestValidateAcceptsFreeName(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&stubRepo{})
	rec := postValidate(t, router, `{"name": "  My-Agency  "}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Valid      bool     `json:"valid"`
		Errors     []string `json:"errors"`
		Normalized string   `json:"normalized"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Valid)
	require.Empty(t, resp.Errors)
	require.Equal(t, "my-agency", resp.Normalized)
}

func TestValidateReportsErrorsWithoutFailing(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&stubRepo{taken: map[string]bool{"taken-name": true}})

	for body, wantErr := range map[string]string{
		`{"name": "ab"}`:         "between 3 and 40 characters",
		`{"name": "admin"}`:      "reserved by the platform",
		`{"name": "taken-name"}`: "is already taken",
	} {
		rec := postValidate(t, router, body)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Valid  bool     `json:"valid"`
			Errors []string `json:"errors"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.False(t, resp.Valid)
		require.Contains(t, strings.Join(resp.Errors, "; "), wantErr)
	}
}

func TestValidateRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&stubRepo{})
	rec := postValidate(t, router, `{not json`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
