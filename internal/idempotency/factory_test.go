package idempotency_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/idempotency"
)

func TestCreate_Format(t *testing.T) {
	at := time.UnixMilli(1718000000123)
	f := idempotency.NewFactoryWithClock(func() time.Time { return at })

	got := f.Create("dep")
	if got != "dep_1718000000123" {
		t.Errorf("expected 'dep_1718000000123', got '%s'", got)
	}
}

func TestCreate_DistinctTimestampsGiveDistinctIDs(t *testing.T) {
	ms := int64(1718000000000)
	f := idempotency.NewFactoryWithClock(func() time.Time {
		ms++
		return time.UnixMilli(ms)
	})

	first := f.Create("dep")
	second := f.Create("dep")
	if first == second {
		t.Fatalf("expected distinct ids, both were %s", first)
	}
}

// Same-millisecond calls collide; the controller's single-flight slot
// guard is what keeps this from mattering.
func TestCreate_SameMillisecondCollides(t *testing.T) {
	at := time.UnixMilli(1718000000000)
	f := idempotency.NewFactoryWithClock(func() time.Time { return at })

	if f.Create("wd") != f.Create("wd") {
		t.Fatal("expected same-millisecond ids to collide")
	}
}

func TestCreate_WallClock(t *testing.T) {
	before := time.Now().UnixMilli()
	id := idempotency.NewFactory().Create("tr")
	after := time.Now().UnixMilli()

	var ms int64
	if _, err := fmt.Sscanf(id, "tr_%d", &ms); err != nil {
		t.Fatalf("unexpected id format %q: %v", id, err)
	}
	if ms < before || ms > after {
		t.Errorf("expected timestamp within [%d, %d], got %d", before, after, ms)
	}
}
