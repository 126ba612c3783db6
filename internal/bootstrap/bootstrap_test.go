package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/config"
)

func TestDispatchPolicyAppliesEnvTimeouts(t *testing.T) {
	policy, err := dispatchPolicy(config.Config{DispatchSimpleTimeoutSeconds: 10, DispatchComplexTimeoutSeconds: 40})
	if err != nil {
		t.Fatalf("dispatchPolicy returned error: %v", err)
	}
	if got := policy.TimeoutFor("txt"); got != 10*time.Second {
		t.Fatalf("expected simple timeout 10s, got %s", got)
	}
	if got := policy.TimeoutFor("PDF"); got != 40*time.Second {
		t.Fatalf("expected complex timeout 40s, got %s", got)
	}
}

func TestDispatchPolicyMergesProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	raw := "complexTimeout: 2m\nfileTypes:\n  .DOCX: {complex: true, timeout: 45s}\n  tiff: {complex: false}\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	policy, err := dispatchPolicy(config.Config{DispatchSimpleTimeoutSeconds: 30, DispatchComplexTimeoutSeconds: 90, DispatchProfilePath: path})
	if err != nil {
		t.Fatalf("dispatchPolicy returned error: %v", err)
	}
	if !policy.IsComplex("docx") || policy.TimeoutFor("docx") != 45*time.Second {
		t.Fatalf("expected docx override, got complex=%v timeout=%s", policy.IsComplex("docx"), policy.TimeoutFor("docx"))
	}
	if policy.IsComplex("tiff") {
		t.Fatalf("expected profile to mark tiff simple")
	}
	if got := policy.TimeoutFor("pdf"); got != 2*time.Minute {
		t.Fatalf("expected profile complex timeout, got %s", got)
	}
	if got := policy.TimeoutFor("txt"); got != 30*time.Second {
		t.Fatalf("expected env simple timeout, got %s", got)
	}
}

func TestDispatchPolicyMissingProfileFails(t *testing.T) {
	_, err := dispatchPolicy(config.Config{DispatchProfilePath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatalf("expected error for missing profile")
	}
}

func TestResilienceConfigFromEnv(t *testing.T) {
	cfg := resilienceConfig(config.Config{
		ResilienceRetryMaxAttempts:       5,
		ResilienceRetryInitialBackoffMs:  50,
		ResilienceRetryMaxBackoffMs:      800,
		ResilienceBreakerEnabled:         false,
		ResilienceBreakerOpenTimeoutSecs: 12,
	})
	if cfg.RetryMaxAttempts != 5 || cfg.RetryInitialBackoff != 50*time.Millisecond || cfg.RetryMaxBackoff != 800*time.Millisecond {
		t.Fatalf("unexpected retry config: %+v", cfg)
	}
	if cfg.BreakerEnabled || cfg.BreakerOpenTimeout != 12*time.Second {
		t.Fatalf("unexpected breaker config: %+v", cfg)
	}
	if cfg.BreakerMinRequests != 10 {
		t.Fatalf("expected default breaker min requests, got %d", cfg.BreakerMinRequests)
	}
}

func TestCloseAllRunsInReverseOrder(t *testing.T) {
	var order []int
	closeAll([]func(){
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
		func() { order = append(order, 3) },
	})
	if len(order) != 3 || order[0] != 3 || order[2] != 1 {
		t.Fatalf("unexpected close order: %v", order)
	}
}
