package resilient

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/objectfs/objectfs/internal/circuit"
	"github.com/objectfs/objectfs/internal/transport"
	"github.com/objectfs/objectfs/pkg/errors"
	"github.com/objectfs/objectfs/pkg/retry"
)

// stubClient implements transport.Client, failing GetStatus failAttempts
// times before succeeding and counting RefreshToken calls. Every other
// method panics if called, since these tests only exercise GetStatus.
type stubClient struct {
	transport.Client

	attempts     int
	failAttempts int
	failCode     errors.ErrorCode
	refreshCalls int
}

func newStub(failAttempts int, code errors.ErrorCode) *stubClient {
	return &stubClient{failAttempts: failAttempts, failCode: code}
}

func (s *stubClient) GetStatus(ctx context.Context) (uint64, error) {
	s.attempts++
	if s.attempts <= s.failAttempts {
		return 0, errors.NewError(s.failCode, "injected failure").WithComponent("resilient_test")
	}
	return 42, nil
}

func (s *stubClient) RefreshToken(ctx context.Context) error {
	s.refreshCalls++
	return nil
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	cfg.Circuit.MaxRequests = 1
	cfg.Circuit.Interval = time.Second
	cfg.Circuit.Timeout = time.Second
	return cfg
}

func TestGetStatusRetriesTransientAndRefreshesToken(t *testing.T) {
	stub := newStub(2, errors.ErrCodeMirrorTransient)
	c := New(stub, "test", fastConfig())

	rev, err := c.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if rev != 42 {
		t.Errorf("expected revision 42, got %d", rev)
	}
	if stub.attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", stub.attempts)
	}
	if stub.refreshCalls != 2 {
		t.Errorf("expected RefreshToken called once per failed attempt, got %d", stub.refreshCalls)
	}
}

func TestGetStatusDoesNotRetryNonRetryableCode(t *testing.T) {
	stub := newStub(retry.DefaultConfig().MaxAttempts, errors.ErrCodeMirrorNotFound)
	c := New(stub, "test", fastConfig())

	_, err := c.GetStatus(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if stub.attempts != 1 {
		t.Errorf("expected no retries for a non-retryable code, got %d attempts", stub.attempts)
	}
	if stub.refreshCalls != 0 {
		t.Errorf("expected no RefreshToken call for a non-transient error, got %d", stub.refreshCalls)
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	stub := newStub(1000, errors.ErrCodeMirrorRemote)
	cfg := fastConfig()
	cfg.Retry.MaxAttempts = 1
	c := New(stub, "test", cfg)

	var lastErr error
	for i := 0; i < 20; i++ {
		_, lastErr = c.GetStatus(context.Background())
	}
	if lastErr == nil {
		t.Fatal("expected failures to persist")
	}
	if !stderr.Is(lastErr, circuit.ErrOpenState) && c.State() != circuit.StateOpen {
		t.Errorf("expected breaker to open after repeated failures, state=%v err=%v", c.State(), lastErr)
	}
}
