package loop

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	go l.Run()
	t.Cleanup(l.Stop)
	return l
}

func TestPostRunsInOrder(t *testing.T) {
	l := startLoop(t)
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Call(func() {})
	if len(got) != 100 {
		t.Fatalf("ran %d tasks", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestPostFromLoopDoesNotBlock(t *testing.T) {
	l := startLoop(t)
	done := make(chan struct{})
	var depth int
	var recurse func()
	recurse = func() {
		depth++
		if depth == 1000 {
			close(done)
			return
		}
		l.Post(recurse)
	}
	l.Post(recurse)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("self-posting tasks stalled")
	}
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := startLoop(t)
	l.Post(func() { panic("boom") })
	ran := false
	l.Call(func() { ran = true })
	if !ran {
		t.Fatal("loop stopped after panic")
	}
}

func TestTimerStopSkipsCallback(t *testing.T) {
	l := startLoop(t)
	var fired atomic.Bool
	var tm *Timer
	l.Call(func() {
		tm = l.AfterFunc(20*time.Millisecond, func() { fired.Store(true) })
	})
	l.Call(func() { tm.Stop() })
	time.Sleep(60 * time.Millisecond)
	l.Call(func() {})
	if fired.Load() {
		t.Fatal("stopped timer fired")
	}

	ch := make(chan struct{})
	l.Call(func() { l.AfterFunc(5*time.Millisecond, func() { close(ch) }) })
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestEvery(t *testing.T) {
	l := startLoop(t)
	var n atomic.Int32
	tk := l.Every(5*time.Millisecond, func() { n.Add(1) })
	time.Sleep(60 * time.Millisecond)
	tk.Stop()
	l.Call(func() {})
	seen := n.Load()
	if seen < 2 {
		t.Fatalf("ticker fired %d times", seen)
	}
	time.Sleep(30 * time.Millisecond)
	l.Call(func() {})
	if n.Load() > seen+1 {
		t.Fatalf("ticker kept firing after stop: %d -> %d", seen, n.Load())
	}
}

func TestGoDeliversOnLoop(t *testing.T) {
	l := startLoop(t)
	res := make(chan int, 1)
	Go(l, func() (int, error) { return 42, nil }, func(v int, err error) { res <- v })
	select {
	case v := <-res:
		if v != 42 {
			t.Fatalf("got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("result never delivered")
	}
}

func TestFlightAttachesToRunningTask(t *testing.T) {
	var f Flight
	runs := 0
	var finish func(error)
	run := func(done func(error)) {
		runs++
		finish = done
	}
	var results []error
	f.Do(run, func(err error) { results = append(results, err) })
	f.Do(run, func(err error) { results = append(results, err) })
	if runs != 1 {
		t.Fatalf("operation started %d times", runs)
	}
	if !f.Running() {
		t.Fatal("flight should be running")
	}
	boom := errors.New("boom")
	finish(boom)
	finish(nil)
	if len(results) != 2 || results[0] != boom || results[1] != boom {
		t.Fatalf("results = %v", results)
	}
	if f.Running() {
		t.Fatal("flight still running")
	}
	f.Do(run, nil)
	if runs != 2 {
		t.Fatal("a new request after completion should start a new run")
	}
}

func TestHooksFireOnce(t *testing.T) {
	var h Hooks
	n := 0
	h.Add(func() {
		n++
		h.Add(func() { n += 10 })
	})
	h.Fire()
	if n != 1 || h.Len() != 1 {
		t.Fatalf("n=%d pending=%d", n, h.Len())
	}
	h.Fire()
	if n != 11 || h.Len() != 0 {
		t.Fatalf("n=%d pending=%d", n, h.Len())
	}
}
