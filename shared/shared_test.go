package shared

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sammoh94/pulsarkit/errors"
)

// --- Unit Tests ---

func TestNew_Empty(t *testing.T) {
	slot := New()
	if slot.IsSet() {
		t.Error("new slot should not be set")
	}
	if err := slot.Take(); err != nil {
		t.Errorf("Take() = %v, want nil", err)
	}
}

func TestSetTake(t *testing.T) {
	tests := []struct {
		name string
		err  *errors.Error
	}{
		{"io", errors.FromIO(io.EOF)},
		{"disconnected", errors.Disconnected()},
		{"protocol", errors.Protocol("TopicNotFound")},
		{"unexpected", errors.Unexpected("bad state")},
		{"decoding", errors.Decoding("short frame")},
		{"encoding", errors.Encoding("too large")},
		{"address", errors.AddressResolution("no such host")},
		{"unexpected_response", errors.UnexpectedResponse("PONG")},
		{"serde", errors.FromSerde(fmt.Errorf("bad token"))},
		{"deserialization", errors.Deserialization(fmt.Errorf("missing field"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := New()
			slot.Set(tt.err)

			if !slot.IsSet() {
				t.Fatal("IsSet() should be true after Set")
			}
			got := slot.Take()
			if got != tt.err {
				t.Fatalf("Take() = %v, want %v", got, tt.err)
			}
			if got.Kind() != tt.err.Kind() || got.Error() != tt.err.Error() {
				t.Errorf("Take() = %s/%q, want %s/%q", got.Kind(), got, tt.err.Kind(), tt.err)
			}
			if slot.IsSet() {
				t.Error("IsSet() should be false after Take")
			}
		})
	}
}

func TestTake_Twice(t *testing.T) {
	slot := New()
	slot.Set(errors.Protocol("ServiceNotReady"))

	if slot.Take() == nil {
		t.Fatal("first Take() should return the error")
	}
	if err := slot.Take(); err != nil {
		t.Errorf("second Take() = %v, want nil", err)
	}
}

func TestSet_Overwrite(t *testing.T) {
	slot := New()
	first := errors.Decoding("first")
	second := errors.Encoding("second")

	slot.Set(first)
	slot.Set(second)

	if got := slot.Take(); got != second {
		t.Fatalf("Take() = %v, want %v", got, second)
	}
	if got := slot.Take(); got != nil {
		t.Errorf("overwritten error resurfaced: %v", got)
	}
}

func TestSet_Nil(t *testing.T) {
	slot := New()
	slot.Set(nil)
	if slot.IsSet() {
		t.Error("Set(nil) should not raise the flag")
	}

	existing := errors.Disconnected()
	slot.Set(existing)
	slot.Set(nil)
	if got := slot.Take(); got != existing {
		t.Errorf("Set(nil) should not clear the slot, Take() = %v", got)
	}
}

func TestSetIfEmpty(t *testing.T) {
	slot := New()
	first := errors.Io(io.ErrUnexpectedEOF)

	if !slot.SetIfEmpty(first) {
		t.Fatal("SetIfEmpty on empty slot should store")
	}
	if slot.SetIfEmpty(errors.Disconnected()) {
		t.Error("SetIfEmpty on occupied slot should not store")
	}
	if slot.SetIfEmpty(nil) {
		t.Error("SetIfEmpty(nil) should not store")
	}
	if got := slot.Take(); got != first {
		t.Errorf("Take() = %v, want %v", got, first)
	}
	if !slot.SetIfEmpty(errors.Disconnected()) {
		t.Error("SetIfEmpty after Take should store")
	}
}

func TestSharedHandles(t *testing.T) {
	producer := New()
	consumer := producer

	producer.Set(errors.Unexpected("writer gone"))

	if !consumer.IsSet() {
		t.Fatal("IsSet() through another handle should be true")
	}
	if got := consumer.Take(); got == nil || got.Message() != "writer gone" {
		t.Fatalf("Take() through another handle = %v", got)
	}
	if producer.IsSet() {
		t.Error("Take through one handle should clear all handles")
	}
}

func TestScenario_Disconnected(t *testing.T) {
	slot := New()
	slot.Set(errors.Disconnected())

	if !slot.IsSet() {
		t.Fatal("IsSet() should be true")
	}
	err := slot.Take()
	if err == nil {
		t.Fatal("Take() should return the error")
	}
	if err.Kind() != errors.KindDisconnected {
		t.Errorf("Kind() = %v, want %v", err.Kind(), errors.KindDisconnected)
	}
	if err.Error() != "Disconnected" {
		t.Errorf("Error() = %q, want %q", err.Error(), "Disconnected")
	}
	if slot.Take() != nil {
		t.Error("second Take() should be empty")
	}
}

func TestScenario_EndOfStream(t *testing.T) {
	slot := New()
	slot.Set(errors.FromIO(io.EOF))

	err := slot.Take()
	if err == nil || err.Kind() != errors.KindIo {
		t.Fatalf("Take() = %v, want io error", err)
	}
	if err.Error() != io.EOF.Error() {
		t.Errorf("Error() = %q, want %q", err.Error(), io.EOF.Error())
	}
}

// --- Concurrency Tests ---

// With a single consumer nothing else can drain the slot, so a raised flag
// must always be backed by a payload.
func TestConcurrent_SingleConsumerNoLostWakeup(t *testing.T) {
	slot := New()
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				slot.Set(errors.Protocolf("p%d-%d", p, i))
			}
		}(p)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	var taken, empty atomic.Int64
	go func() {
		defer close(done)
		for {
			if slot.IsSet() {
				if slot.Take() == nil {
					empty.Add(1)
				} else {
					taken.Add(1)
				}
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-done

	if empty.Load() != 0 {
		t.Errorf("Take() returned empty %d times after IsSet() was true", empty.Load())
	}
	leftover := slot.Take()
	if taken.Load() == 0 && leftover == nil {
		t.Error("every error was lost")
	}
}

func TestConcurrent_ProducersAndConsumers(t *testing.T) {
	slot := New()
	const producers = 8
	const consumers = 4
	const perProducer = 300

	var (
		mu    sync.Mutex
		seen  = make(map[string]int)
		setWG sync.WaitGroup
	)

	for p := 0; p < producers; p++ {
		setWG.Add(1)
		go func(p int) {
			defer setWG.Done()
			for i := 0; i < perProducer; i++ {
				slot.Set(errors.Protocolf("p%d-%d", p, i))
			}
		}(p)
	}

	stop := make(chan struct{})
	var takeWG sync.WaitGroup
	for c := 0; c < consumers; c++ {
		takeWG.Add(1)
		go func() {
			defer takeWG.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if !slot.IsSet() {
					continue
				}
				if err := slot.Take(); err != nil {
					mu.Lock()
					seen[err.Message()]++
					mu.Unlock()
				}
			}
		}()
	}

	setWG.Wait()
	close(stop)
	takeWG.Wait()

	// Whatever is left must be consistent with the flag.
	flag := slot.IsSet()
	leftover := slot.Take()
	if flag != (leftover != nil) {
		t.Errorf("IsSet() = %v but Take() = %v at quiescence", flag, leftover)
	}
	if leftover != nil {
		seen[leftover.Message()]++
	}

	if len(seen) == 0 {
		t.Fatal("no error survived concurrent producers")
	}
	for msg, n := range seen {
		if n != 1 {
			t.Errorf("error %q taken %d times", msg, n)
		}
	}
}

func TestConcurrent_SetThenTakeOrdering(t *testing.T) {
	slot := New()
	for i := 0; i < 1000; i++ {
		want := errors.Protocolf("round-%d", i)
		ready := make(chan struct{})

		go func() {
			slot.Set(want)
			close(ready)
		}()

		select {
		case <-ready:
		case <-time.After(time.Second):
			t.Fatal("Set did not return")
		}

		if !slot.IsSet() {
			t.Fatalf("round %d: IsSet() false after Set returned", i)
		}
		if got := slot.Take(); got != want {
			t.Fatalf("round %d: Take() = %v, want %v", i, got, want)
		}
	}
}
