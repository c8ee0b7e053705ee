package orchestrator

import "testing"

func TestNextVersionInitial(t *testing.T) {
	if got := nextVersion(""); got != "1.0.0" {
		t.Errorf("expected 1.0.0, got %s", got)
	}
}

func TestNextVersionBumpsMinor(t *testing.T) {
	if got := nextVersion("1.2.5"); got != "1.3.0" {
		t.Errorf("expected 1.3.0, got %s", got)
	}
}

func TestNextVersionMalformedFallsBack(t *testing.T) {
	if got := nextVersion("not-a-version"); got != "1.0.0" {
		t.Errorf("expected fallback to 1.0.0, got %s", got)
	}
}

func TestParamFloatAndInt(t *testing.T) {
	params := map[string]interface{}{"learning_rate": 0.01, "epochs": float64(15)}
	if got := paramFloat(params, "learning_rate", 0.001); got != 0.01 {
		t.Errorf("expected 0.01, got %f", got)
	}
	if got := paramInt(params, "epochs", 10); got != 15 {
		t.Errorf("expected 15, got %d", got)
	}
	if got := paramInt(params, "missing", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
}
