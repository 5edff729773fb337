package logging

import "testing"

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New("development", "loud"); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewBuildsLogger(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		l, err := New(env, "warn")
		if err != nil {
			t.Fatalf("%s: %v", env, err)
		}
		if l == nil {
			t.Fatalf("%s: nil logger", env)
		}
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}
