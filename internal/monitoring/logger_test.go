package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	orig := Logf
	defer SetLogger(orig)

	var captured string
	SetLogger(func(format string, v ...interface{}) {
		captured = fmt.Sprintf(format, v...)
	})
	Logf("skipping %s", "model")
	if captured != "skipping model" {
		t.Errorf("unexpected capture %q", captured)
	}
}

func TestSetLogger_NilMutes(t *testing.T) {
	orig := Logf
	defer SetLogger(orig)

	SetLogger(nil)
	// Must not panic.
	Logf("discarded %d", 1)
}
