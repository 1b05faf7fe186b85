// Package openrouter tests cover balance parsing for limited and unlimited
// keys, the one-shot capacity cache, default fallbacks, and auth headers.
package openrouter

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// apiStub runs an OpenRouter stub serving the given bodies per path.
// requestCount tracks total requests across all paths.
func apiStub(t *testing.T, bodies map[string]string) (*Client, *int) {
	t.Helper()
	var requests int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want Bearer sk-test", got)
		}
		body, ok := bodies[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, "sk-test"), &requests
}

// ///////////////////////////////////////////////
// Balance
// ///////////////////////////////////////////////

func TestFetchBalanceLimitedKey(t *testing.T) {
	client, _ := apiStub(t, map[string]string{
		"/api/v1/key": `{"data":{"limit":20,"limit_remaining":15.5,"usage":4.5,"usage_daily":1.25}}`,
	})

	b, err := client.FetchBalance()
	if err != nil {
		t.Fatalf("FetchBalance: %v", err)
	}
	if b.Limit == nil || *b.Limit != 20 {
		t.Errorf("Limit = %v, want 20", b.Limit)
	}
	if b.LimitRemaining == nil || *b.LimitRemaining != 15.5 {
		t.Errorf("LimitRemaining = %v, want 15.5", b.LimitRemaining)
	}
	if b.Usage != 4.5 {
		t.Errorf("Usage = %v, want 4.5", b.Usage)
	}
	if b.UsageDaily != 1.25 {
		t.Errorf("UsageDaily = %v, want 1.25", b.UsageDaily)
	}
}

func TestFetchBalanceUnlimitedKey(t *testing.T) {
	client, _ := apiStub(t, map[string]string{
		"/api/v1/key": `{"data":{"limit":null,"limit_remaining":null,"usage":12.34,"usage_daily":0}}`,
	})

	b, err := client.FetchBalance()
	if err != nil {
		t.Fatalf("FetchBalance: %v", err)
	}
	if b.Limit != nil {
		t.Errorf("Limit = %v, want nil for unlimited key", *b.Limit)
	}
	if b.LimitRemaining != nil {
		t.Errorf("LimitRemaining = %v, want nil", *b.LimitRemaining)
	}
	if b.Usage != 12.34 {
		t.Errorf("Usage = %v, want 12.34", b.Usage)
	}
}

func TestFetchBalanceHTTPError(t *testing.T) {
	client, _ := apiStub(t, map[string]string{})

	_, err := client.FetchBalance()
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", se.Status)
	}
}

func TestFetchBalanceMalformedBody(t *testing.T) {
	client, _ := apiStub(t, map[string]string{"/api/v1/key": `not json`})

	if _, err := client.FetchBalance(); err == nil {
		t.Error("expected error for malformed body")
	}
}

// ///////////////////////////////////////////////
// Capacity
// ///////////////////////////////////////////////

const modelListing = `{"data":[
	{"id":"anthropic/claude-sonnet-4.5","context_length":200000},
	{"id":"anthropic/claude-haiku-4.5","context_length":131072},
	{"id":"broken/model","context_length":0}
]}`

func TestFetchCapacityKnownModel(t *testing.T) {
	client, _ := apiStub(t, map[string]string{"/api/v1/models": modelListing})
	cc := NewCapacityCache()

	limit, err := client.FetchCapacity(cc, "anthropic/claude-sonnet-4.5")
	if err != nil {
		t.Fatalf("FetchCapacity: %v", err)
	}
	if limit != 200000 {
		t.Errorf("limit = %d, want 200000", limit)
	}
}

func TestFetchCapacityListingFetchedOnce(t *testing.T) {
	client, requests := apiStub(t, map[string]string{"/api/v1/models": modelListing})
	cc := NewCapacityCache()

	if _, err := client.FetchCapacity(cc, "anthropic/claude-sonnet-4.5"); err != nil {
		t.Fatalf("FetchCapacity: %v", err)
	}
	if _, err := client.FetchCapacity(cc, "anthropic/claude-haiku-4.5"); err != nil {
		t.Fatalf("FetchCapacity: %v", err)
	}
	if _, err := client.FetchCapacity(cc, "never/listed"); err != nil {
		t.Fatalf("FetchCapacity: %v", err)
	}

	if *requests != 1 {
		t.Errorf("requests = %d, want 1 (listing fetched once)", *requests)
	}
}

func TestFetchCapacityUnknownModelDefaults(t *testing.T) {
	client, _ := apiStub(t, map[string]string{"/api/v1/models": modelListing})
	cc := NewCapacityCache()

	limit, err := client.FetchCapacity(cc, "never/listed")
	if err != nil {
		t.Fatalf("FetchCapacity: %v", err)
	}
	if limit != DefaultContextLimit {
		t.Errorf("limit = %d, want default %d", limit, DefaultContextLimit)
	}
}

func TestFetchCapacityZeroLengthNotCached(t *testing.T) {
	client, _ := apiStub(t, map[string]string{"/api/v1/models": modelListing})
	cc := NewCapacityCache()

	limit, err := client.FetchCapacity(cc, "broken/model")
	if err != nil {
		t.Fatalf("FetchCapacity: %v", err)
	}
	if limit != DefaultContextLimit {
		t.Errorf("limit = %d, want default for zero-length listing entry", limit)
	}
}

func TestFetchCapacityFetchFailureDefaults(t *testing.T) {
	client, _ := apiStub(t, map[string]string{})
	cc := NewCapacityCache()

	limit, err := client.FetchCapacity(cc, "anthropic/claude-sonnet-4.5")
	if err == nil {
		t.Error("expected error when the listing cannot be fetched")
	}
	if limit != DefaultContextLimit {
		t.Errorf("limit = %d, want default %d", limit, DefaultContextLimit)
	}
}

func TestCapacityCacheLookup(t *testing.T) {
	cc := NewCapacityCache()
	if _, ok := cc.Lookup("anything"); ok {
		t.Error("empty cache should not resolve any model")
	}

	client, _ := apiStub(t, map[string]string{"/api/v1/models": modelListing})
	if _, err := client.FetchCapacity(cc, "anthropic/claude-haiku-4.5"); err != nil {
		t.Fatalf("FetchCapacity: %v", err)
	}

	limit, ok := cc.Lookup("anthropic/claude-haiku-4.5")
	if !ok || limit != 131072 {
		t.Errorf("Lookup = %d,%v, want 131072,true", limit, ok)
	}
}
