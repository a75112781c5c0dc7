package diag

import "testing"

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"error":   SeverityError,
		"warn":    SeverityWarning,
		"warning": SeverityWarning,
		"info":    SeverityInfo,
		"log":     SeverityLog,
		"debug":   SeverityLog,
		"":        SeverityLog,
		" ERROR ": SeverityError,
	}
	for in, want := range cases {
		if got := ParseSeverity(in); got != want {
			t.Fatalf("ParseSeverity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEventString(t *testing.T) {
	e := Static("App.jsx", 3, 7, "Unexpected %s", "token")
	if got, want := e.String(), "[error] App.jsx:3:7: Unexpected token"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if !e.HasLocation() {
		t.Fatalf("HasLocation() = false, want true")
	}
	bare := Event{Severity: SeverityLog, Message: "hi"}
	if got := bare.String(); got != "[log] hi" {
		t.Fatalf("String() = %q", got)
	}
	if !HasErrors([]Event{bare, e}) || HasErrors([]Event{bare}) {
		t.Fatalf("HasErrors mismatch")
	}
	if Count([]Event{bare, e, e}, SeverityError) != 2 {
		t.Fatalf("Count() mismatch")
	}
}
