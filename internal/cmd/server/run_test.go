package serverrun

import (
	"testing"
	"time"

	cfgpkg "github.com/eduwass/transmit-1/internal/config"
	"github.com/eduwass/transmit-1/pkg/bus"
	logpkg "github.com/eduwass/transmit-1/pkg/log"
)

func quietLogger() logpkg.Logger {
	return logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel), logpkg.WithOutput(logpkg.NullOutput{}))
}

func TestBuildBusNone(t *testing.T) {
	for _, transport := range []string{"", "none"} {
		b, err := buildBus(cfgpkg.BusConfig{Transport: transport}, quietLogger())
		if err != nil || b != nil {
			t.Fatalf("transport %q: bus=%v err=%v", transport, b, err)
		}
	}
}

func TestBuildBusUnknown(t *testing.T) {
	if _, err := buildBus(cfgpkg.BusConfig{Transport: "carrier-pigeon"}, quietLogger()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBuildBusMemory(t *testing.T) {
	b, err := buildBus(cfgpkg.BusConfig{Transport: "memory"}, quietLogger())
	if err != nil || b == nil {
		t.Fatalf("bus=%v err=%v", b, err)
	}
	_ = b.Disconnect()
}

func TestBuildBusMemoryWithRetry(t *testing.T) {
	b, err := buildBus(cfgpkg.BusConfig{
		Transport: "memory",
		Retry: cfgpkg.RetryConfig{
			Enabled:  true,
			Dir:      t.TempDir(),
			Interval: cfgpkg.Duration(50 * time.Millisecond),
		},
	}, quietLogger())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, ok := b.(*bus.RetryBus); !ok {
		t.Fatalf("expected retry wrapper, got %T", b)
	}
	_ = b.Disconnect()
}
