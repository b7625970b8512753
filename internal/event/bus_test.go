package event

import (
	"context"
	"errors"
	"testing"
)

func TestTriggerRunsListenersInOrder(t *testing.T) {
	bus := New()
	ctx := context.Background()

	var calls []string
	bus.Listen("evt", func(ctx context.Context, data any) error {
		calls = append(calls, "first:"+data.(string))
		return nil
	})
	bus.Listen("evt", func(ctx context.Context, data any) error {
		calls = append(calls, "second:"+data.(string))
		return nil
	})

	if err := bus.Trigger(ctx, "evt", "x"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}

	want := []string{"first:x", "second:x"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestListenSameCallbackTwiceFiresTwice(t *testing.T) {
	bus := New()
	count := 0
	fn := func(ctx context.Context, data any) error {
		count++
		return nil
	}

	h1 := bus.Listen("evt", fn)
	h2 := bus.Listen("evt", fn)
	if h1 == h2 {
		t.Fatal("expected distinct handles for duplicate registrations")
	}

	_ = bus.Trigger(context.Background(), "evt", nil)
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	bus.StopListening("evt", h1)
	_ = bus.Trigger(context.Background(), "evt", nil)
	if count != 3 {
		t.Errorf("count after StopListening = %d, want 3", count)
	}
}

func TestStopListeningUnknownIsNoop(t *testing.T) {
	bus := New()
	bus.Listen("evt", func(ctx context.Context, data any) error { return nil })

	bus.StopListening("evt", Handle(999))
	bus.StopListening("missing", Handle(1))

	if got := bus.Count("evt"); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestTriggerErrorStopsLaterListeners(t *testing.T) {
	bus := New()
	boom := errors.New("boom")
	laterCalled := false

	bus.Listen("evt", func(ctx context.Context, data any) error { return boom })
	bus.Listen("evt", func(ctx context.Context, data any) error {
		laterCalled = true
		return nil
	})

	err := bus.Trigger(context.Background(), "evt", nil)
	if !errors.Is(err, boom) {
		t.Errorf("Trigger() error = %v, want %v", err, boom)
	}
	if laterCalled {
		t.Error("listener after the failing one should not run")
	}
}

func TestDispatch(t *testing.T) {
	veto := errors.New("veto")
	other := errors.New("other")

	tests := []struct {
		name        string
		listenerErr error
		wantOutcome Outcome
		wantErr     error
	}{
		{name: "no error", listenerErr: nil, wantOutcome: Proceed},
		{name: "veto", listenerErr: veto, wantOutcome: Veto},
		{name: "wrapped veto", listenerErr: errors.Join(errors.New("ctx"), veto), wantOutcome: Veto},
		{name: "other error", listenerErr: other, wantOutcome: Proceed, wantErr: other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := New()
			bus.Listen("evt", func(ctx context.Context, data any) error { return tt.listenerErr })

			outcome, err := bus.Dispatch(context.Background(), "evt", nil, veto)
			if outcome != tt.wantOutcome {
				t.Errorf("outcome = %v, want %v", outcome, tt.wantOutcome)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClear(t *testing.T) {
	bus := New()
	bus.Listen("a", func(ctx context.Context, data any) error { return nil })
	bus.Listen("b", func(ctx context.Context, data any) error { return nil })

	bus.Clear()

	if bus.Count("a") != 0 || bus.Count("b") != 0 {
		t.Error("Clear() should remove all listeners")
	}
}
