package seek

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"introskip/internal/models"
)

type stubTarget struct {
	name string
}

func (t *stubTarget) Seek(context.Context, int64) error { return nil }

type stubProvider struct {
	target Target
	err    error
	calls  int
}

func (p *stubProvider) Target(_ context.Context, _ models.Session) (Target, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.target, nil
}

func TestChainReturnsFirstResolvedTarget(t *testing.T) {
	want := &stubTarget{name: "primary"}
	first := &stubProvider{target: want}
	second := &stubProvider{target: &stubTarget{name: "secondary"}}

	got, err := Chain{first, second}.Target(context.Background(), models.Session{Key: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if got != Target(want) {
		t.Errorf("got %v, want primary target", got)
	}
	if second.calls != 0 {
		t.Error("second provider should not be consulted")
	}
}

func TestChainFallsThroughOnNotFound(t *testing.T) {
	want := &stubTarget{name: "secondary"}
	first := &stubProvider{err: fmt.Errorf("clients: %w", ErrPlayerNotAdvertised)}
	second := &stubProvider{target: want}

	got, err := Chain{first, second}.Target(context.Background(), models.Session{Key: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if got != Target(want) {
		t.Error("expected the secondary target")
	}
}

func TestChainJoinsAllFailures(t *testing.T) {
	first := &stubProvider{err: fmt.Errorf("clients: %w", ErrPlayerNotAdvertised)}
	second := &stubProvider{err: fmt.Errorf("companion: %w", ErrTargetNotFound)}

	_, err := Chain{first, second}.Target(context.Background(), models.Session{Key: "1"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("error should wrap ErrTargetNotFound: %v", err)
	}
	if !errors.Is(err, ErrPlayerNotAdvertised) {
		t.Errorf("error should preserve the not-advertised cause: %v", err)
	}
	for _, backend := range []string{"clients", "companion"} {
		if !strings.Contains(err.Error(), backend) {
			t.Errorf("error should name backend %q: %v", backend, err)
		}
	}
}

func TestChainKeepsTransportErrors(t *testing.T) {
	errConn := errors.New("connection refused")
	first := &stubProvider{err: fmt.Errorf("clients: %w", errConn)}
	second := &stubProvider{err: fmt.Errorf("companion: %w", ErrTargetNotFound)}

	_, err := Chain{first, second}.Target(context.Background(), models.Session{Key: "1"})
	if !errors.Is(err, errConn) {
		t.Errorf("error should preserve the transport failure: %v", err)
	}
}

func TestEmptyChain(t *testing.T) {
	_, err := Chain{}.Target(context.Background(), models.Session{Key: "1"})
	if !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("got %v, want ErrTargetNotFound", err)
	}
}

func TestNotAdvertisedIsNotFound(t *testing.T) {
	if !errors.Is(ErrPlayerNotAdvertised, ErrTargetNotFound) {
		t.Error("ErrPlayerNotAdvertised must wrap ErrTargetNotFound")
	}
}
