package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/shehryarbajwa/flowreel/internal/page/pagetest"
)

func TestNewLauncher_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"remote without url", Options{Mode: ModeRemote}, true},
		{"remote with url", Options{Mode: ModeRemote, WSURL: "ws://127.0.0.1:9222"}, false},
		{"local", Options{Mode: ModeLocal, DataDir: t.TempDir()}, false},
		{"unknown", Options{Mode: "kubernetes"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLauncher(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLauncher() error = %v, wantErr %v", err, tt.wantErr)
			}
			if l != nil {
				l.Close()
			}
		})
	}
}

func TestInstance_CloseStopsBrowser(t *testing.T) {
	fake := pagetest.New()
	stopped := false
	inst := NewInstance("s1", fake, func(context.Context) error {
		stopped = true
		return nil
	})

	if err := inst.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fake.Closed() {
		t.Error("expected page to be closed")
	}
	if !stopped {
		t.Error("expected stop func to run")
	}
}

func TestInstance_CloseReturnsStopError(t *testing.T) {
	boom := errors.New("container gone")
	inst := NewInstance("s1", pagetest.New(), func(context.Context) error { return boom })
	if err := inst.Close(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected stop error, got %v", err)
	}
}
