package state

import (
	"sync"
	"testing"
	"time"
)

func TestSetTransposeClamps(t *testing.T) {
	s := New(DefaultMin, DefaultMax, Flags{})

	tests := []struct {
		in, want int
	}{
		{0, 0},
		{5, 5},
		{-24, -24},
		{24, 24},
		{70, 24},
		{-100, -24},
		{25, 24},
	}
	for _, tt := range tests {
		got := s.SetTranspose(tt.in)
		if got != tt.want {
			t.Errorf("SetTranspose(%d) = %d, want %d", tt.in, got, tt.want)
		}
		if cur := s.Transpose(); cur != got {
			t.Errorf("Transpose() after SetTranspose(%d) = %d, want %d", tt.in, cur, got)
		}
	}
}

func TestSetTransposeIdempotent(t *testing.T) {
	s := New(-12, 12, Flags{})
	first := s.SetTranspose(7)
	second := s.SetTranspose(7)
	if first != second || s.Transpose() != 7 {
		t.Fatalf("repeated set changed value: %d, %d, %d", first, second, s.Transpose())
	}
}

func TestNewSwapsBounds(t *testing.T) {
	s := New(10, -10, Flags{})
	min, max := s.Bounds()
	if min != -10 || max != 10 {
		t.Fatalf("Bounds() = %d, %d", min, max)
	}
}

func TestStepTranspose(t *testing.T) {
	s := New(-2, 2, Flags{})
	for i := 0; i < 5; i++ {
		s.StepTranspose(1)
	}
	if got := s.Transpose(); got != 2 {
		t.Errorf("after 5 steps up got %d, want 2", got)
	}
	old, cur := s.StepTranspose(-1)
	if old != 2 || cur != 1 {
		t.Errorf("StepTranspose(-1) = %d, %d", old, cur)
	}
}

func TestFlagToggleTwiceRestores(t *testing.T) {
	s := New(DefaultMin, DefaultMax, Flags{RelayEnabled: true, SendOriginal: false})

	orig := s.RelayEnabled()
	s.SetRelayEnabled(!s.RelayEnabled())
	s.SetRelayEnabled(!s.RelayEnabled())
	if s.RelayEnabled() != orig {
		t.Error("relay flag not restored after two toggles")
	}

	orig = s.SendOriginal()
	s.SetSendOriginal(!orig)
	s.SetSendOriginal(orig)
	if s.SendOriginal() != orig {
		t.Error("send-original flag not restored")
	}
}

func TestDebugHook(t *testing.T) {
	s := New(DefaultMin, DefaultMax, Flags{})
	var seen []bool
	s.OnDebugChange = func(on bool) { seen = append(seen, on) }

	s.SetDebug(true)
	s.SetDebug(false)

	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Fatalf("hook calls = %v", seen)
	}
}

func TestRequestExit(t *testing.T) {
	s := New(DefaultMin, DefaultMax, Flags{})
	if s.Exiting() {
		t.Fatal("exiting before request")
	}

	s.RequestExit()
	s.RequestExit() // second call must not panic on closed channel

	if !s.Exiting() {
		t.Fatal("not exiting after request")
	}
	select {
	case <-s.Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Done() not closed")
	}
}

func TestConcurrentWritersStayInRange(t *testing.T) {
	s := New(-24, 24, Flags{})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				switch i % 3 {
				case 0:
					s.SetTranspose(i * w)
				case 1:
					s.StepTranspose(1)
				default:
					s.StepTranspose(-1)
				}
				s.SetRelayEnabled(i%2 == 0)
			}
		}(w)
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if v := s.Transpose(); v < -24 || v > 24 {
				t.Errorf("observed out of range value %d", v)
				return
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone
}

func TestSnapshot(t *testing.T) {
	s := New(DefaultMin, DefaultMax, Flags{Debug: true, BrokerEnabled: true})
	s.SetTranspose(3)
	s.SetBrokerOnline(true)

	snap := s.Snapshot()
	want := Snapshot{Transpose: 3, Debug: true, BrokerEnabled: true, BrokerOnline: true}
	if snap != want {
		t.Errorf("Snapshot() = %+v, want %+v", snap, want)
	}
}
