package app

import (
	"context"
	"fmt"
	"os"
)

// Check runs one manual evaluation cycle immediately. The notification
// window is bypassed; cooldowns still apply, with the shortened manual
// interval on dispatch.
func (a *App) Check(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc, err := a.buildService(store, nil)
	if err != nil {
		return err
	}

	result, err := svc.CheckNow(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "evaluated %d target(s): %d alert(s), %d recovery(ies), %d deferred, %d suppressed, %d fetch failure(s)\n",
		result.Evaluated, result.Alerts, result.Recoveries, result.Deferred, result.Suppressed, result.FetchFailed)
	return nil
}

// Sweep delivers due deferred notifications without running an evaluation.
func (a *App) Sweep(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc, err := a.buildService(store, nil)
	if err != nil {
		return err
	}

	result, err := svc.SweepNow(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "swept deferred queue: %d delivered, %d expired\n", result.SweptSent, result.SweptExpired)
	return nil
}
