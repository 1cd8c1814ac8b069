package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	// Save original logger
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// Now set to nil and verify it doesn't call our logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
	if Level() != LevelWarn {
		t.Errorf("default level = %d, want %d", Level(), LevelWarn)
	}
}

// TestLeveledHelpers tests that each helper is gated on the current level.
func TestLeveledHelpers(t *testing.T) {
	original := Logf
	origLevel := Level()
	defer func() {
		Logf = original
		SetLevel(origLevel)
	}()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	SetLevel(LevelInfo)
	Errorf("e%d", 1)
	Warnf("w%d", 2)
	Infof("i%d", 3)
	Debugf("d%d", 4)
	Spewf("s%d", 5)

	want := []string{"error: e1", "warning: w2", "i3"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}

	got = nil
	SetLevel(LevelNone)
	Errorf("quiet")
	if len(got) != 0 {
		t.Errorf("level none should emit nothing, got %q", got)
	}
}

func TestSetLevel_Clamps(t *testing.T) {
	origLevel := Level()
	defer SetLevel(origLevel)

	SetLevel(42)
	if Level() != LevelSpew {
		t.Errorf("Level() = %d, want %d", Level(), LevelSpew)
	}
	SetLevel(-3)
	if Level() != LevelNone {
		t.Errorf("Level() = %d, want %d", Level(), LevelNone)
	}
}
