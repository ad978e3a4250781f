package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func limitedStatus(h http.Handler, principal string) int {
	req := httptest.NewRequest(http.MethodGet, "/v1/records/1", nil)
	if principal != "" {
		req.Header.Set(PrincipalHeader, principal)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLimiterSet_KeysOnNormalisedPrincipal(t *testing.T) {
	set := newLimiterSet(1, 1)
	h := set.middleware(http.HandlerFunc(okHandler))

	if got := limitedStatus(h, " bob"); got != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", got)
	}
	if got := limitedStatus(h, "bob\t"); got != http.StatusTooManyRequests {
		t.Fatalf("padded principal should share the bucket: expected 429, got %d", got)
	}
	// Composed and decomposed forms normalise to the same principal.
	if got := limitedStatus(h, "caf\u00e9"); got != http.StatusOK {
		t.Fatalf("expected 200, got %d", got)
	}
	if got := limitedStatus(h, "cafe\u0301"); got != http.StatusTooManyRequests {
		t.Fatalf("decomposed principal should share the bucket: expected 429, got %d", got)
	}
	if n := set.size(); n != 2 {
		t.Errorf("expected 2 tracked buckets, got %d", n)
	}
}

func TestLimiterSet_InvalidPrincipalFallsBackToAddress(t *testing.T) {
	set := newLimiterSet(1, 1)
	h := set.middleware(http.HandlerFunc(okHandler))

	if got := limitedStatus(h, "   "); got != http.StatusOK {
		t.Fatalf("expected 200, got %d", got)
	}
	if got := limitedStatus(h, ""); got != http.StatusTooManyRequests {
		t.Fatalf("blank and missing principals share the address bucket: expected 429, got %d", got)
	}
}

func TestLimiterSet_EvictsIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	set := newLimiterSet(1, 1)
	set.now = clock.now

	for i := 0; i < 50; i++ {
		set.get(fmt.Sprintf("principal:p%d", i))
	}
	if n := set.size(); n != 50 {
		t.Fatalf("expected 50 buckets, got %d", n)
	}

	clock.advance(set.idleTTL + time.Second)
	set.get("principal:fresh")
	if n := set.size(); n != 1 {
		t.Errorf("expected idle buckets to be swept, %d remain", n)
	}
}

func TestLimiterSet_BoundedSize(t *testing.T) {
	clock := newFakeClock()
	set := newLimiterSet(1, 1)
	set.now = clock.now
	set.max = 3

	for i := 0; i < 10; i++ {
		clock.advance(time.Millisecond)
		set.get(fmt.Sprintf("principal:p%d", i))
	}
	if n := set.size(); n != 3 {
		t.Fatalf("expected set capped at 3, got %d", n)
	}
	for _, k := range []string{"principal:p7", "principal:p8", "principal:p9"} {
		if _, ok := set.limiters[k]; !ok {
			t.Errorf("expected most recent bucket %s to be kept", k)
		}
	}
}

func TestLimiterSet_ActiveBucketKeepsItsState(t *testing.T) {
	clock := newFakeClock()
	set := newLimiterSet(1, 1)
	set.now = clock.now

	l := set.get("principal:bob")
	clock.advance(limiterSweepEvery)
	if got := set.get("principal:bob"); got != l {
		t.Error("expected a recently used bucket to survive a sweep")
	}
}
