package core

import (
	"testing"
)

func TestHub_PublishAndUnsubscribe(t *testing.T) {
	h := NewHub[int](discardLogger())

	var a, b []int
	unsubA := h.Subscribe("op", func(v int) { a = append(a, v) })
	h.Subscribe("op", func(v int) { b = append(b, v) })
	h.Subscribe("other", func(v int) { t.Errorf("other key received %d", v) })

	h.Publish("op", 1)
	unsubA()
	unsubA()
	h.Publish("op", 2)

	if len(a) != 1 || a[0] != 1 {
		t.Errorf("a = %v, want [1]", a)
	}
	if len(b) != 2 || b[1] != 2 {
		t.Errorf("b = %v, want [1 2]", b)
	}
	if got := h.Count("op"); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}

func TestHub_PanickingSubscriberIsIsolated(t *testing.T) {
	h := NewHub[string](discardLogger())

	var got []string
	h.Subscribe("op", func(string) { panic("boom") })
	h.Subscribe("op", func(v string) { got = append(got, v) })

	h.Publish("op", "first")
	h.Publish("op", "second")

	if len(got) != 2 {
		t.Errorf("healthy subscriber got %v, want both updates", got)
	}
}

func TestHub_Drop(t *testing.T) {
	h := NewHub[int](discardLogger())
	called := false
	unsub := h.Subscribe("op", func(int) { called = true })

	h.Drop("op")
	h.Publish("op", 1)
	unsub()

	if called {
		t.Error("dropped subscriber was called")
	}
	if h.Count("op") != 0 {
		t.Error("Count after Drop should be 0")
	}
}
