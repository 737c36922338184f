package netsvc

import (
	"context"
	"log/slog"
	"os"

	"github.com/kardianos/service"
)

// ServiceRunner adapts a long-running ctx-cancellable function to
// kardianos/service's Interface, so a daemon can install/run/uninstall as an
// OS service exactly like host-agent/cmd/agent/main.go's agent type does.
type ServiceRunner struct {
	Run func(ctx context.Context) error

	cancel context.CancelFunc
}

// Start is called by the service manager; it launches Run in the
// background and returns immediately, as service.Interface requires.
func (r *ServiceRunner) Start(s service.Service) error {
	go r.runLoop()
	return nil
}

// Stop cancels the running context and returns immediately.
func (r *ServiceRunner) Stop(s service.Service) error {
	slog.Info("service stop requested")
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

func (r *ServiceRunner) runLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	defer cancel()

	if err := r.Run(ctx); err != nil {
		slog.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

// NewService builds a kardianos/service.Service wrapping runner under the
// given identity.
func NewService(name, displayName, description string, runner *ServiceRunner) (service.Service, error) {
	return service.New(runner, &service.Config{
		Name:        name,
		DisplayName: displayName,
		Description: description,
	})
}
