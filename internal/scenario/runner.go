package scenario

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tethercheck/internal/capture"
	"tethercheck/internal/tetherd"
)

// Runner executes scenarios against one daemon and one link provider.
type Runner struct {
	cfg   Config
	ctrl  Controller
	links LinkProvider
	log   *logrus.Entry
}

// NewRunner returns a runner. Every log line of the run carries a fresh
// run identifier so interleaved runs can be told apart.
func NewRunner(cfg Config, ctrl Controller, links LinkProvider) *Runner {
	return &Runner{
		cfg:   cfg,
		ctrl:  ctrl,
		links: links,
		log:   logrus.WithField("run", uuid.NewString()[:8]),
	}
}

// Config returns the runner's configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run executes the named scenarios in order, or all registered
// scenarios when names is empty. Every requested scenario runs even if
// an earlier one failed.
func (r *Runner) Run(ctx context.Context, names []string) error {
	var scenarios []Scenario
	if len(names) == 0 {
		scenarios = All()
	} else {
		for _, name := range names {
			s, err := Lookup(name)
			if err != nil {
				return err
			}
			scenarios = append(scenarios, s)
		}
	}

	failed := 0
	for _, s := range scenarios {
		log := r.log.WithField("scenario", s.Name)
		log.Info("Starting scenario")
		start := time.Now()
		if err := s.Run(ctx, r); err != nil {
			log.WithError(err).WithField("elapsed", time.Since(start).Round(time.Millisecond)).Error("Scenario failed")
			failed++
			continue
		}
		log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Scenario passed")
	}
	if failed > 0 {
		return errors.Errorf("%d of %d scenarios failed", failed, len(scenarios))
	}
	return nil
}

// session is one tethering session with its downstream machinery. All
// fields except watcher may be nil, depending on how the session was
// begun.
type session struct {
	r       *Runner
	req     tetherd.Request
	iface   tetherd.InterfaceIdentity
	link    Link
	reader  *capture.Reader
	watcher Watcher
}

// beginVirtual provisions a virtual downstream link, subscribes to the
// daemon's notifications for it, and starts a tethering session on it.
// The caller must end the session regardless of what happens next.
func (r *Runner) beginVirtual(ctx context.Context, req tetherd.Request) (*session, error) {
	link, err := r.links.Create(ctx, r.cfg.TAPName, r.cfg.MTU)
	if err != nil {
		return nil, errors.Wrap(err, "failed to provision downstream link")
	}
	reader := capture.NewReader(link.FD(), link.MTU())
	reader.Start()

	s := &session{
		r:      r,
		req:    req,
		iface:  tetherd.InterfaceIdentity{Type: req.Type, Name: link.Name()},
		link:   link,
		reader: reader,
	}
	if err := r.attach(ctx, s); err != nil {
		reader.Close()
		link.Close()
		return nil, err
	}
	return s, nil
}

// beginPhysical starts a tethering session on an existing interface.
// No raw link access is available in this mode.
func (r *Runner) beginPhysical(ctx context.Context, req tetherd.Request, ifname string) (*session, error) {
	s := &session{
		r:     r,
		req:   req,
		iface: tetherd.InterfaceIdentity{Type: req.Type, Name: ifname},
	}
	if err := r.attach(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Runner) attach(ctx context.Context, s *session) error {
	watcher, err := r.ctrl.Watch(ctx, s.iface)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to daemon notifications")
	}
	if err := r.ctrl.StartTethering(ctx, s.req); err != nil {
		watcher.Unsubscribe()
		return errors.Wrap(err, "failed to start tethering")
	}
	s.watcher = watcher
	return nil
}

// end tears the session down. Every step runs regardless of earlier
// failures; the last error wins, and each failure is logged as it
// happens so nothing gets swallowed.
func (s *session) end(ctx context.Context) error {
	var lastErr error
	fail := func(err error) {
		lastErr = err
		s.r.log.WithError(err).Error("Teardown step failed")
	}

	if err := s.r.ctrl.StopTethering(ctx, s.req.Type); err != nil {
		fail(errors.Wrap(err, "failed to stop tethering"))
	}
	if err := s.watcher.AwaitUntethered(time.Duration(s.r.cfg.Timeouts.Teardown)); err != nil {
		fail(errors.Wrap(err, "interface did not untether"))
	}
	s.watcher.Unsubscribe()
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			fail(errors.Wrap(err, "failed to stop capture"))
		}
	}
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			fail(errors.Wrap(err, "failed to release downstream link"))
		}
	}
	return lastErr
}

// stateTimeout is the configured bound for state-transition waits.
func (s *session) stateTimeout() time.Duration {
	return time.Duration(s.r.cfg.Timeouts.State)
}
