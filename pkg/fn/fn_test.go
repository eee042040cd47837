package fn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatalf("expected 42/nil, got %d/%v", v, err)
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || e.Cause() == nil {
		t.Fatal("Err should be err")
	}
}

func TestErrNilStillFails(t *testing.T) {
	if Err[int](nil).IsOk() {
		t.Fatal("Err(nil) must not be ok")
	}
}

func TestFromPair(t *testing.T) {
	if v, err := FromPair(7, nil).Unwrap(); v != 7 || err != nil {
		t.Fatalf("expected 7/nil, got %d/%v", v, err)
	}
	boom := errors.New("boom")
	if !errors.Is(FromPair(7, boom).Cause(), boom) {
		t.Fatal("expected boom")
	}
}

func TestThenShortCircuits(t *testing.T) {
	called := false
	fail := Stage[int, int](func(context.Context, int) Result[int] { return Errf[int]("nope") })
	next := Stage[int, string](func(context.Context, int) Result[string] { called = true; return Ok("x") })

	if Then(fail, next)(context.Background(), 1).IsOk() {
		t.Fatal("expected failure")
	}
	if called {
		t.Fatal("second stage must not run")
	}
}

func TestThenAndTap(t *testing.T) {
	var seen []int
	add := func(n int) Stage[int, int] {
		return func(_ context.Context, v int) Result[int] { return Ok(v + n) }
	}
	tap := TapStage(func(_ context.Context, v int) { seen = append(seen, v) })
	p := Then(Then(add(1), tap), add(10))
	got, err := p(context.Background(), 0).Unwrap()
	if err != nil || got != 11 {
		t.Fatalf("expected 11, got %d (%v)", got, err)
	}
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("expected tap to see 1, got %v", seen)
	}
}

func TestTracedStageRecordsFailure(t *testing.T) {
	double := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v * 2) })
	if v, _ := TracedStage("double", double)(context.Background(), 4).Unwrap(); v != 8 {
		t.Fatalf("expected 8, got %d", v)
	}
	fail := TracedStage("fail", Stage[int, int](func(context.Context, int) Result[int] { return Errf[int]("nope") }))
	if fail(context.Background(), 1).IsOk() {
		t.Fatal("expected failure to pass through")
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	var retried []int
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		OnRetry:     func(attempt int, _ error) { retried = append(retried, attempt) },
	}, func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Errf[string]("try %d", calls)
		}
		return Ok("done")
	})
	v, _ := r.Unwrap()
	if v != "done" || calls != 3 {
		t.Fatalf("expected done after 3 calls, got %q after %d", v, calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Fatalf("unexpected retry hooks: %v", retried)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if calls != 1 || !errors.Is(r.Cause(), permanent) {
		t.Fatalf("expected a single attempt, got %d (%v)", calls, r.Cause())
	}
}

func TestRetryHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Hour}, func(context.Context) Result[int] {
		return Errf[int]("fail")
	})
	if !errors.Is(r.Cause(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", r.Cause())
	}
}

func TestSliceHelpers(t *testing.T) {
	words := []string{"Stripe", "plaid", "stripe", "Visa"}
	uniq := UniqueBy(words, strings.ToLower)
	if len(uniq) != 3 || uniq[0] != "Stripe" {
		t.Fatalf("UniqueBy: got %v", uniq)
	}
	caps := Filter(words, func(s string) bool { return s[0] >= 'A' && s[0] <= 'Z' })
	if len(caps) != 2 {
		t.Fatalf("Filter: got %v", caps)
	}
	if Filter(words, func(string) bool { return false }) != nil {
		t.Fatal("Filter: expected nil when nothing is kept")
	}
}
