package parambus

import (
	"errors"
	"reflect"
	"testing"
)

func TestSetInvokesSettersInOrder(t *testing.T) {
	b := New()
	var calls []string
	b.Subscribe("gain", func(v any) error {
		calls = append(calls, "first")
		if v.(float64) != 12.5 {
			t.Fatalf("first setter got %v", v)
		}
		return nil
	})
	b.Subscribe("gain", func(v any) error {
		calls = append(calls, "second")
		if v.(float64) != 12.5 {
			t.Fatalf("second setter got %v", v)
		}
		return nil
	})

	if err := b.Set("gain", 12.5); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !reflect.DeepEqual(calls, []string{"first", "second"}) {
		t.Fatalf("unexpected call order %v", calls)
	}
}

func TestSetStopsAtFirstFailure(t *testing.T) {
	b := New()
	boom := errors.New("boom")
	thirdRan := false
	b.Subscribe("rate", func(any) error { return nil })
	b.Subscribe("rate", func(any) error { return boom })
	b.Subscribe("rate", func(any) error { thirdRan = true; return nil })

	err := b.Set("rate", 2e6)
	if !errors.Is(err, boom) {
		t.Fatalf("expected setter error, got %v", err)
	}
	if thirdRan {
		t.Fatal("setter after the failing one should not run")
	}
}

func TestGetNeverCaches(t *testing.T) {
	b := New()
	n := 0
	b.Publish("freq", func() (any, error) {
		n++
		return float64(n), nil
	})
	for want := 1; want <= 3; want++ {
		v, err := b.GetFloat("freq")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if v != float64(want) {
			t.Fatalf("expected %d, got %v", want, v)
		}
	}
}

func TestPublishReplacesGetter(t *testing.T) {
	b := New()
	b.Publish("pmf", func() (any, error) { return false, nil })
	b.Publish("pmf", func() (any, error) { return true, nil })
	v, err := b.GetBool("pmf")
	if err != nil || !v {
		t.Fatalf("expected replaced getter, got %v %v", v, err)
	}
}

func TestUnknownParameter(t *testing.T) {
	b := New()
	if _, err := b.Get("volume"); !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("get: expected ErrUnknownParameter, got %v", err)
	}
	if err := b.Set("volume", 1.0); !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("set: expected ErrUnknownParameter, got %v", err)
	}

	b.Subscribe("threshold", func(any) error { return nil })
	if _, err := b.Get("threshold"); !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("setter-only channel has no getter, got %v", err)
	}
}

func TestGetterErrorPropagates(t *testing.T) {
	b := New()
	hw := errors.New("device gone")
	b.Publish("gain", func() (any, error) { return nil, hw })
	if _, err := b.Get("gain"); err != hw {
		t.Fatalf("expected getter error unchanged, got %v", err)
	}
}

func TestTypedGetters(t *testing.T) {
	b := New()
	b.Publish("threshold", func() (any, error) { return "seven", nil })
	if _, err := b.GetFloat("threshold"); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
	b.Publish("rate", func() (any, error) { return 4, nil })
	if v, err := b.GetFloat("rate"); err != nil || v != 4 {
		t.Fatalf("int should convert, got %v %v", v, err)
	}
	if _, err := b.GetBool("rate"); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestSetterMayReadBus(t *testing.T) {
	b := New()
	b.Publish("rate", func() (any, error) { return 2e6, nil })
	var seen float64
	b.Subscribe("freq", func(any) error {
		v, err := b.GetFloat("rate")
		seen = v
		return err
	})
	if err := b.Set("freq", 1090e6); err != nil {
		t.Fatalf("set: %v", err)
	}
	if seen != 2e6 {
		t.Fatalf("nested get returned %v", seen)
	}
}

func TestNames(t *testing.T) {
	b := New()
	b.Publish("rate", func() (any, error) { return 0.0, nil })
	b.Subscribe("freq", func(any) error { return nil })
	b.Publish("freq", func() (any, error) { return 0.0, nil })
	if got := b.Names(); !reflect.DeepEqual(got, []string{"freq", "rate"}) {
		t.Fatalf("unexpected names %v", got)
	}
}
