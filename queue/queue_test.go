package queue

import (
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := New()
	msgs := [][]byte{{0x90, 60, 100}, {0x90, 64, 100}, {0x80, 60, 0}}
	for _, m := range msgs {
		if !q.Push(m) {
			t.Fatal("Push on open queue failed")
		}
	}

	for i, want := range msgs {
		got, ok, closed := q.Pop(time.Second)
		if !ok || closed {
			t.Fatalf("Pop %d: ok=%v closed=%v", i, ok, closed)
		}
		if got[1] != want[1] || got[0] != want[0] {
			t.Errorf("Pop %d = %v, want %v", i, got, want)
		}
	}
}

func TestPopTimeout(t *testing.T) {
	q := New()
	start := time.Now()
	_, ok, closed := q.Pop(20 * time.Millisecond)
	if ok || closed {
		t.Fatalf("expected timeout, got ok=%v closed=%v", ok, closed)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Pop returned before timeout")
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	q := New()
	q.Push([]byte{1})
	q.Push([]byte{2})
	q.Close()

	if q.Push([]byte{3}) {
		t.Error("Push after Close should fail")
	}

	for _, want := range []byte{1, 2} {
		msg, ok := q.PopWait()
		if !ok || msg[0] != want {
			t.Fatalf("PopWait = %v, %v; want %d", msg, ok, want)
		}
	}

	if _, ok := q.PopWait(); ok {
		t.Error("PopWait on drained closed queue should fail")
	}
	if _, ok, closed := q.Pop(time.Second); ok || !closed {
		t.Errorf("Pop on drained closed queue: ok=%v closed=%v", ok, closed)
	}
}

func TestPushNeverBlocks(t *testing.T) {
	q := New()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100000; i++ {
			q.Push([]byte{0x90, byte(i % 128), 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Push blocked without a consumer")
	}
	if q.Len() != 100000 {
		t.Errorf("Len() = %d", q.Len())
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	q := New()
	const n = 5000

	go func() {
		for i := 0; i < n; i++ {
			q.Push([]byte{byte(i >> 8), byte(i)})
		}
		q.Close()
	}()

	next := 0
	for {
		msg, ok := q.PopWait()
		if !ok {
			break
		}
		got := int(msg[0])<<8 | int(msg[1])
		if got != next {
			t.Fatalf("out of order: got %d, want %d", got, next)
		}
		next++
	}
	if next != n {
		t.Fatalf("received %d messages, want %d", next, n)
	}
}

func TestCloseWakesWaitingConsumer(t *testing.T) {
	q := New()
	result := make(chan bool)
	go func() {
		_, ok := q.PopWait()
		result <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-result:
		if ok {
			t.Error("expected closed result")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer not woken by Close")
	}
}
