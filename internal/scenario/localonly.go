package scenario

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"tethercheck/internal/faults"
	"tethercheck/internal/netiface"
	"tethercheck/internal/packet"
	"tethercheck/internal/tetherd"
)

func init() {
	register(Scenario{
		Name: "local-only",
		Desc: "Serve a local-only session: router advertisements on the link, unique local addressing and no global IPv6",
		Run:  runLocalOnly,
	})
}

func runLocalOnly(ctx context.Context, r *Runner) (retErr error) {
	s, err := r.beginVirtual(ctx, tetherd.NewLocalOnlyRequest(tetherd.TypeEthernet))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.end(ctx); err != nil && retErr == nil {
			retErr = err
		}
	}()

	if err := s.watcher.AwaitEntered(tetherd.StateLocalOnly, s.stateTimeout()); err != nil {
		return err
	}
	if err := awaitRouterAdvertisement(s, time.Duration(r.cfg.Timeouts.RouterAdvert)); err != nil {
		return err
	}
	r.log.Info("Router advertisement observed on the downstream link")

	return netiface.CheckLocalOnlyAddrs(s.iface.Name)
}

// awaitRouterAdvertisement pops frames until one classifies as a router
// advertisement. The budget shrinks with each non-matching frame so the
// total wait stays bounded no matter how chatty the link is.
func awaitRouterAdvertisement(s *session, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.Wrapf(faults.ErrTimeout, "no router advertisement within %v", timeout)
		}
		frame := s.reader.Pop(remaining)
		if frame == nil {
			return errors.Wrapf(faults.ErrTimeout, "no router advertisement within %v", timeout)
		}
		if packet.IsRouterAdvertisement(frame) {
			return nil
		}
	}
}
