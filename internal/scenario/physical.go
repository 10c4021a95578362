package scenario

import (
	"context"

	"github.com/pkg/errors"

	"tethercheck/internal/faults"
	"tethercheck/internal/netiface"
	"tethercheck/internal/tetherd"
)

func init() {
	register(Scenario{
		Name: "physical-link",
		Desc: "Tether an existing physical interface and verify the daemon reports it tethered and addressed",
		Run:  runPhysicalLink,
	})
}

func runPhysicalLink(ctx context.Context, r *Runner) (retErr error) {
	ifname := r.cfg.Interface
	if ifname == "" {
		return errors.Wrap(faults.ErrInvalidConfiguration, "no physical interface configured")
	}
	if !netiface.Exists(ifname) {
		return errors.Errorf("interface %s does not exist", ifname)
	}
	mac, err := netiface.HardwareAddr(ifname)
	if err != nil {
		return err
	}
	r.log.WithField("mac", mac.String()).Info("Tethering physical interface")

	s, err := r.beginPhysical(ctx, tetherd.NewRequest(tetherd.TypeEthernet), ifname)
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

	addrs, err := netiface.Addrs(ifname)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return errors.Errorf("interface %s carries no addresses while tethered", ifname)
	}
	r.log.WithField("addrs", addrs).Info("Downstream interface addressed")
	return nil
}
