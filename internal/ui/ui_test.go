package ui

import "testing"

func TestRenderFunctions_PlainWhenNotTTY(t *testing.T) {
	// go test's captured stdout is never a TTY, so every renderer should
	// pass its input through unstyled.
	cases := []struct {
		name string
		fn   func(string) string
	}{
		{"accent", RenderAccent},
		{"pass", RenderPass},
		{"warn", RenderWarn},
		{"fail", RenderFail},
		{"dim", RenderDim},
	}
	for _, tc := range cases {
		if got := tc.fn("hello"); got != "hello" {
			t.Errorf("%s: Render(\"hello\") = %q, want unstyled passthrough", tc.name, got)
		}
	}
}

func TestTerminalWidth_FallsBackWhenNotTTY(t *testing.T) {
	if got := TerminalWidth(80); got != 80 {
		t.Errorf("TerminalWidth(80) = %d, want fallback 80", got)
	}
}
