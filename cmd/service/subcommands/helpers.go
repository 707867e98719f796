package subcommands

import (
	"context"
	"fmt"

	"github.com/leefowlercu/atlas-archive/internal/servicemanager"
)

// newManager is replaced in tests.
var newManager = servicemanager.New

func manager() (servicemanager.Manager, error) {
	mgr, err := newManager()
	if err != nil {
		return nil, fmt.Errorf("service management unavailable; %w", err)
	}
	return mgr, nil
}

// installedManager returns the manager, failing when the service file is absent.
func installedManager(ctx context.Context) (servicemanager.Manager, error) {
	mgr, err := manager()
	if err != nil {
		return nil, err
	}

	st, err := mgr.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query service; %w", err)
	}
	if st.State == servicemanager.ServiceStateNotInstalled {
		return nil, fmt.Errorf("service is not installed; run 'atlas service install' first")
	}
	return mgr, nil
}
