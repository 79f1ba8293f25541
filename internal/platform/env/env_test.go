package env

import (
	"testing"
	"time"
)

func TestStringDefault(t *testing.T) {
	if got := String("OVERTURE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
	t.Setenv("OVERTURE_TEST_SET", "value")
	if got := String("OVERTURE_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("OVERTURE_TEST_DURATION", "250ms")
	d, err := Duration("OVERTURE_TEST_DURATION", time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if d != 250*time.Millisecond {
		t.Fatalf("Duration()=%v", d)
	}

	t.Setenv("OVERTURE_TEST_DURATION", "nope")
	if _, err := Duration("OVERTURE_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("OVERTURE_TEST_BOOL", "true")
	b, err := Bool("OVERTURE_TEST_BOOL", false)
	if err != nil || !b {
		t.Fatalf("Bool()=%v err=%v", b, err)
	}

	t.Setenv("OVERTURE_TEST_INT", "42")
	i, err := Int("OVERTURE_TEST_INT", 0)
	if err != nil || i != 42 {
		t.Fatalf("Int()=%v err=%v", i, err)
	}
}
