package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	perr "gitrank/internal/platform/errors"
)

const geocodeOK = `{
	"status": "OK",
	"results": [{
		"geometry": {"location": {"lat": 48.8566, "lng": 2.3522}},
		"address_components": [
			{"long_name": "Paris", "short_name": "Paris", "types": ["locality", "political"]},
			{"long_name": "Ile-de-France", "short_name": "IDF", "types": ["administrative_area_level_1", "political"]},
			{"long_name": "France", "short_name": "FR", "types": ["country", "political"]}
		]
	}]
}`

func newClient(t *testing.T, geocode, tz http.HandlerFunc) *Client {
	t.Helper()
	gs := httptest.NewServer(geocode)
	t.Cleanup(gs.Close)
	ts := httptest.NewServer(tz)
	t.Cleanup(ts.Close)
	return NewClient(Options{GeocodeURL: gs.URL, TimezoneURL: ts.URL})
}

func TestResolve_FullBreakdown(t *testing.T) {
	c := newClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("address"); got != "Paris, France" {
				t.Errorf("address = %q", got)
			}
			_, _ = w.Write([]byte(geocodeOK))
		},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<timezone><offset>1.0</offset></timezone>`))
		},
	)

	g, ok, err := c.Resolve(context.Background(), "Paris, France")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok {
		t.Fatal("expected resolved")
	}
	if g.Country != "France" || g.CountryCode != "FR" {
		t.Errorf("country = %q/%q", g.Country, g.CountryCode)
	}
	if g.State != "Ile-de-France" {
		t.Errorf("state = %q", g.State)
	}
	if g.City != "Paris" {
		t.Errorf("city = %q", g.City)
	}
	if g.Timezone == nil || *g.Timezone != 1 {
		t.Errorf("timezone = %v", g.Timezone)
	}
}

func TestResolve_ZeroResultsIsNotAnError(t *testing.T) {
	c := newClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("timezone should not be consulted")
		},
	)

	_, ok, err := c.Resolve(context.Background(), "nowhere in particular")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Fatal("expected unresolved")
	}
}

func TestResolve_OverQuotaSurfacesQuotaCode(t *testing.T) {
	c := newClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status": "OVER_QUERY_LIMIT", "results": []}`))
		},
		func(w http.ResponseWriter, r *http.Request) {},
	)

	_, _, err := c.Resolve(context.Background(), "Berlin")
	if !perr.IsCode(err, perr.ErrorCodeQuota) {
		t.Fatalf("expected quota code, got %v", err)
	}
}

func TestResolve_TimezoneFailureKeepsAddress(t *testing.T) {
	c := newClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(geocodeOK))
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	)

	g, ok, err := c.Resolve(context.Background(), "Paris, France")
	if err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}
	if g.Timezone != nil {
		t.Errorf("timezone = %v, want nil", g.Timezone)
	}
	if g.Country != "France" {
		t.Errorf("country = %q", g.Country)
	}
}
