package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfooddiary/openfooddiary/server/internal/health"
	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
)

const probeTimeout = 2 * time.Second

type healthReport struct {
	Backend string   `json:"backend"`
	Healthy bool     `json:"healthy"`
	Down    []string `json:"down,omitempty"`
}

func (a *app) healthCmd() *cobra.Command {
	var (
		watch    time.Duration
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Wait for the backend to answer, then report its health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st := a.storage.Store()
			timeout := time.Duration(a.cfg.BootstrapTimeoutSeconds) * time.Second
			if err := health.WaitUntilReady(ctx, st, timeout, a.log); err != nil {
				_ = a.print(healthReport{Backend: st.Name()})
				return model.NewSystemError(err)
			}

			checker := store.NewStoreHealthChecker(st, a.log, probeTimeout)
			checker.Check(ctx)
			svc := health.NewServiceHealthChecker(a.log, checker)
			down := svc.Evaluate()
			if watch > 0 {
				if interval <= 0 {
					interval = time.Second
				}
				wctx, cancel := context.WithTimeout(ctx, watch)
				defer cancel()
				go checker.Start(wctx, interval)
				svc.Start(wctx, interval)
				down = svc.Evaluate()
			}
			if err := a.print(healthReport{Backend: st.Name(), Healthy: svc.IsHealthy(), Down: down}); err != nil {
				return err
			}
			if !svc.IsHealthy() {
				return model.NewSystemError(errors.New("backend unhealthy"))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "Keep probing for this long, logging health transitions")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Probe interval while watching")
	return cmd
}
