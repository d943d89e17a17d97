package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/mj1618/droid-order/internal/model"
)

// eventLog records the order in which things happen across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestSubmit_Success(t *testing.T) {
	c := New(Options{})
	res := c.Submit(context.Background(), "search", func(ctx context.Context) (model.Result, error) {
		return model.OK("done", map[string]any{"n": 1}), nil
	})
	if diff := cmp.Diff(model.OK("done", map[string]any{"n": 1}), res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if _, ok := c.Current(); ok {
		t.Error("slot should be empty after the task finished")
	}
}

func TestSubmit_PreemptionForceStopsOnce(t *testing.T) {
	log := &eventLog{}
	var stops atomic.Int32
	c := New(Options{ForceStop: func(ctx context.Context) {
		stops.Add(1)
		log.add("force-stop")
	}})

	started := make(chan struct{})
	resA := make(chan model.Result, 1)
	go func() {
		resA <- c.Submit(context.Background(), "A", func(ctx context.Context) (model.Result, error) {
			log.add("A start")
			close(started)
			<-ctx.Done()
			log.add("A unwound")
			return model.Result{}, ctx.Err()
		})
	}()
	<-started

	resB := c.Submit(context.Background(), "B", func(ctx context.Context) (model.Result, error) {
		log.add("B start")
		return model.OK("B done", nil), nil
	})

	a := <-resA
	if a.Success || a.Message != MessageSuperseded {
		t.Errorf("A: got %+v, want superseded failure", a)
	}
	if a.Data["cancelled"] != true {
		t.Errorf("A: expected cancelled marker, got %v", a.Data)
	}
	if !resB.Success || resB.Message != "B done" {
		t.Errorf("B: got %+v", resB)
	}
	if n := stops.Load(); n != 1 {
		t.Errorf("force-stops: got %d, want 1", n)
	}
	want := []string{"A start", "A unwound", "force-stop", "B start"}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_NoForceStopWithoutPrevious(t *testing.T) {
	var stops atomic.Int32
	c := New(Options{ForceStop: func(context.Context) { stops.Add(1) }})
	for i := 0; i < 3; i++ {
		c.Submit(context.Background(), "seq", func(ctx context.Context) (model.Result, error) {
			return model.OK("ok", nil), nil
		})
	}
	if n := stops.Load(); n != 0 {
		t.Errorf("sequential tasks should not force-stop, got %d", n)
	}
}

func TestSubmit_MutualExclusion(t *testing.T) {
	c := New(Options{CancelWait: time.Second})
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Submit(context.Background(), "burst", func(ctx context.Context) (model.Result, error) {
				n := active.Add(1)
				defer active.Add(-1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				select {
				case <-ctx.Done():
					return model.Result{}, ctx.Err()
				case <-time.After(5 * time.Millisecond):
					return model.OK("ok", nil), nil
				}
			})
		}()
	}
	wg.Wait()
	if m := maxActive.Load(); m != 1 {
		t.Errorf("max concurrent bodies: got %d, want 1", m)
	}
	if _, ok := c.Current(); ok {
		t.Error("slot should be empty once every task returned")
	}
}

func TestSubmit_AbandonedPreviousStillHoldsGate(t *testing.T) {
	log := &eventLog{}
	c := New(Options{CancelWait: 10 * time.Millisecond})

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Submit(context.Background(), "stubborn", func(ctx context.Context) (model.Result, error) {
			close(started)
			time.Sleep(50 * time.Millisecond) // ignores cancellation
			log.add("stubborn end")
			return model.OK("late", nil), nil
		})
	}()
	<-started

	res := c.Submit(context.Background(), "next", func(ctx context.Context) (model.Result, error) {
		log.add("next start")
		return model.OK("next", nil), nil
	})
	<-done
	if !res.Success {
		t.Errorf("next: got %+v", res)
	}
	if diff := cmp.Diff([]string{"stubborn end", "next start"}, log.get()); diff != "" {
		t.Errorf("gate must keep bodies apart (-want +got):\n%s", diff)
	}
}

func TestSubmit_AbandonedPreviousForceStopsAgain(t *testing.T) {
	log := &eventLog{}
	c := New(Options{
		CancelWait: 10 * time.Millisecond,
		ForceStop:  func(context.Context) { log.add("force-stop") },
	})

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Submit(context.Background(), "stubborn", func(ctx context.Context) (model.Result, error) {
			close(started)
			time.Sleep(50 * time.Millisecond) // ignores cancellation
			log.add("stubborn end")
			return model.OK("late", nil), nil
		})
	}()
	<-started

	c.Submit(context.Background(), "next", func(ctx context.Context) (model.Result, error) {
		log.add("next start")
		return model.OK("next", nil), nil
	})
	<-done
	want := []string{"force-stop", "stubborn end", "force-stop", "next start"}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_ErrorsAndPanics(t *testing.T) {
	long := strings.Repeat("设备错误", 100)
	tests := []struct {
		name string
		body Body
		want string
	}{
		{
			name: "error",
			body: func(ctx context.Context) (model.Result, error) { return model.Result{}, errors.New("tap failed") },
			want: "tap failed",
		},
		{
			name: "panic",
			body: func(ctx context.Context) (model.Result, error) { panic("boom") },
			want: "内部错误: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(Options{}).Submit(context.Background(), tt.name, tt.body)
			if res.Success || res.Message != tt.want {
				t.Errorf("got %+v, want failure %q", res, tt.want)
			}
		})
	}

	t.Run("long message truncated", func(t *testing.T) {
		res := New(Options{}).Submit(context.Background(), "long", func(ctx context.Context) (model.Result, error) {
			return model.Result{}, errors.New(long)
		})
		if n := utf8.RuneCountInString(res.Message); n != model.MaxMessageRunes {
			t.Errorf("message runes: got %d, want %d", n, model.MaxMessageRunes)
		}
	})

	t.Run("gate released after panic", func(t *testing.T) {
		c := New(Options{})
		c.Submit(context.Background(), "panic", func(ctx context.Context) (model.Result, error) { panic("x") })
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		res := c.Submit(ctx, "after", func(ctx context.Context) (model.Result, error) { return model.OK("ok", nil), nil })
		if !res.Success {
			t.Errorf("got %+v", res)
		}
	})
}

func TestSubmit_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	res := New(Options{}).Submit(ctx, "late", func(ctx context.Context) (model.Result, error) {
		ran = true
		return model.OK("ok", nil), nil
	})
	if ran {
		t.Error("body should not run with a cancelled context")
	}
	if res.Success || res.Message != MessageCancelled {
		t.Errorf("got %+v", res)
	}
}
