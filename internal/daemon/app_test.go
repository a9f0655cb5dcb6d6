// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/thumbgate/thumbgate/internal/config"
	"github.com/thumbgate/thumbgate/internal/log"
)

type fakeManager struct {
	startErr error
	hooks    []string
}

func (f *fakeManager) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeManager) Shutdown(context.Context) error { return nil }

func (f *fakeManager) RegisterShutdownHook(name string, _ ShutdownHook) {
	f.hooks = append(f.hooks, name)
}

func TestApp_Run_MissingManager(t *testing.T) {
	app := NewApp(AppDeps{Logger: log.WithComponent("test")})

	err := app.Run(context.Background())
	if !errors.Is(err, ErrMissingManager) {
		t.Errorf("Run() error = %v, want %v", err, ErrMissingManager)
	}
}

func TestApp_Run_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := NewApp(AppDeps{
		Logger:  log.WithComponent("test"),
		Manager: &fakeManager{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestApp_Run_PropagatesManagerError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := NewApp(AppDeps{
		Logger:  log.WithComponent("test"),
		Manager: &fakeManager{startErr: fmt.Errorf("bind failed")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := app.Run(ctx)
	if err == nil || !contains(err.Error(), "bind failed") {
		t.Errorf("Run() error = %v, want bind failure", err)
	}
}

func TestApp_ApplyConfig_ToleratesBadLevel(t *testing.T) {
	app := NewApp(AppDeps{Logger: log.WithComponent("test")})

	// All rewireable subsystems nil, log level unparseable: must not panic.
	app.applyConfig(config.Config{Log: config.LogConfig{Level: "nonsense"}})
}
