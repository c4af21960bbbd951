// Package schedule runs recurring jobs (stats reconciliation sweeps) and
// one-shot timers (deferred publishes) on a small worker pool.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "crosspost/pkg/logx"
)

type Config struct {
	Workers        int
	DefaultTimeout time.Duration
	Timezone       string // IANA TZ, e.g. "Asia/Jakarta"
}

type job struct {
	id      string
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron

	queue  chan job
	stopCh chan struct{}

	// one-shot timers keyed by caller-supplied id
	tmu    sync.Mutex
	timers map[string]*time.Timer
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers: map[string]*time.Timer{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	s.queue = make(chan job, 256)

	loc := s.loadLocation()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for i := 0; i < workers; i++ {
		go s.worker(ctx, s.stopCh, s.queue)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("workers", workers), logx.String("tz", loc.String()))
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped")
}

// AddCron registers a recurring job against a five-field cron spec
// (descriptors like @hourly also work).
func (s *Service) AddCron(name, spec string, timeout time.Duration, run func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("scheduler not started")
	}
	id := fmt.Sprintf("cron:%s", name)
	_, err := s.c.AddFunc(spec, func() {
		s.enqueue(job{id: id, name: name, timeout: s.resolveTimeout(timeout), run: run})
	})
	return err
}

// AddInterval registers a recurring job on a fixed period.
func (s *Service) AddInterval(name string, every, timeout time.Duration, run func(ctx context.Context) error) error {
	return s.AddCron(name, fmt.Sprintf("@every %s", every.String()), timeout, run)
}

// At fires run once at the given time. A past time fires immediately.
// The timer is cancellable via Cancel until it fires.
func (s *Service) At(id, name string, when time.Time, run func(ctx context.Context) error) error {
	s.mu.Lock()
	started := s.stopCh != nil
	s.mu.Unlock()
	if !started {
		return errors.New("scheduler not started")
	}

	delay := time.Until(when)
	if delay < 0 {
		delay = 0
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if _, ok := s.timers[id]; ok {
		return fmt.Errorf("timer %s already registered", id)
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		delete(s.timers, id)
		s.tmu.Unlock()
		s.enqueue(job{id: id, name: name, timeout: s.resolveTimeout(0), run: run})
	})
	return nil
}

// Cancel stops a pending one-shot timer. Returns false when the timer
// already fired or never existed.
func (s *Service) Cancel(id string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	return t.Stop()
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) resolveTimeout(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return s.cfg.DefaultTimeout
}

func (s *Service) enqueue(j job) {
	select {
	case s.queue <- j:
	default:
		s.log.Warn("scheduler queue full, dropping job", logx.String("job", j.name))
	}
}

func (s *Service) worker(ctx context.Context, stop <-chan struct{}, queue <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case j := <-queue:
			s.execOne(ctx, j)
		}
	}
}

func (s *Service) execOne(ctx context.Context, j job) {
	start := time.Now()
	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	if err := j.run(runCtx); err != nil {
		s.log.Warn("job failed", logx.String("job", j.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job ok", logx.String("job", j.name), logx.Duration("took", time.Since(start)))
}
