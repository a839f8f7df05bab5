package env

import "testing"

func TestFirstSkipsBlankValues(t *testing.T) {
	t.Setenv("LICENSEGATE_TEST_A", "   ")
	t.Setenv("LICENSEGATE_TEST_B", " console ")
	if got := First("json", "LICENSEGATE_TEST_A", "LICENSEGATE_TEST_B"); got != "console" {
		t.Fatalf("expected console, got %q", got)
	}
}

func TestGetFallsBack(t *testing.T) {
	t.Setenv("LICENSEGATE_TEST_A", "")
	if got := Get("LICENSEGATE_TEST_A", "json"); got != "json" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
