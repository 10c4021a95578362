package scenario

import (
	"context"
	"time"

	"tethercheck/internal/tetherd"
)

func init() {
	register(Scenario{
		Name: "upstream",
		Desc: "Tether against a preferred test upstream and wait for the daemon's first upstream selection",
		Run:  runUpstream,
	})
}

func runUpstream(ctx context.Context, r *Runner) (retErr error) {
	if err := r.ctrl.PreferTestUpstreams(ctx, true); err != nil {
		return err
	}
	defer func() {
		if err := r.ctrl.PreferTestUpstreams(ctx, false); err != nil {
			r.log.WithError(err).Error("Failed to restore upstream preference")
			if retErr == nil {
				retErr = err
			}
		}
	}()

	s, err := r.beginVirtual(ctx, tetherd.NewRequest(tetherd.TypeEthernet))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.end(ctx); err != nil && retErr == nil {
			retErr = err
		}
	}()

	if err := s.watcher.AwaitEntered(tetherd.StateTethered, s.stateTimeout()); err != nil {
		return err
	}
	network, err := s.watcher.AwaitUpstream(time.Duration(r.cfg.Timeouts.Upstream))
	if err != nil {
		return err
	}
	r.log.WithField("network", network).Info("Daemon selected an upstream")
	return nil
}
