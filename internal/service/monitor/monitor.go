package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/notify"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/sbat"
)

var (
	ErrAlreadyRunning = errors.New("monitor already running")
	ErrNotRunning     = errors.New("monitor not running")
	ErrInvalidConfig  = errors.New("invalid monitor configuration")
)

// StoppedCancelled is the termination cause of a run ended by Stop.
const StoppedCancelled = "cancelled"

type upstream interface {
	Authenticate(ctx context.Context) (*oauth2.Token, error)
	Reauthenticate(ctx context.Context) (*oauth2.Token, error)
	Check(ctx context.Context, token *oauth2.Token, examCenterID int, licenseType string) (*sbat.CheckResponse, error)
}

type slotStore interface {
	Create(ctx context.Context, slot *model.ExamTimeSlot) error
	FindByExamID(ctx context.Context, examID int64) (*model.ExamTimeSlot, error)
	SetStatus(ctx context.Context, examID int64, status model.SlotStatus, at time.Time) error
	AttachLicenseType(ctx context.Context, examID int64, licenseType string) error
	NotifiedIDs(ctx context.Context, examCenterID int, licenseType string) (map[int64]struct{}, error)
}

type recipientLookup interface {
	Recipients(ctx context.Context, examCenterID int, licenseType string) (model.Recipients, error)
}

type notifier interface {
	Notify(ctx context.Context, msg notify.Message, to model.Recipients)
	Alert(ctx context.Context, text string)
}

type eventPublisher interface {
	Publish(ctx context.Context, ev model.SlotEvent) error
}

type Monitor struct {
	client      upstream
	slots       slotStore
	subscribers recipientLookup
	notifier    notifier
	events      eventPublisher

	now  func() time.Time
	tick time.Duration // unit of SecondsInbetween

	mu             sync.Mutex
	cfg            model.MonitorConfiguration
	cancel         context.CancelFunc
	done           chan struct{}
	runID          string
	startedAt      time.Time
	firstStartedAt *time.Time
	lastStartedAt  *time.Time
	lastStoppedAt  *time.Time
	totalRunning   time.Duration
	stoppedDueTo   string
}

// New builds an idle monitor with the default configuration. events may be
// nil.
func New(client upstream, slots slotStore, subscribers recipientLookup, n notifier, events eventPublisher) *Monitor {
	return &Monitor{
		client:      client,
		slots:       slots,
		subscribers: subscribers,
		notifier:    n,
		events:      events,
		now:         time.Now,
		tick:        time.Second,
		cfg:         model.DefaultMonitorConfiguration(),
	}
}

// Start launches the poll loop.
// The goroutine uses a context derived from context.Background so it
// survives after the calling HTTP request completes.
func (m *Monitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	now := m.now()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.runID = uuid.NewString()
	m.startedAt = now
	m.lastStartedAt = &now
	if m.firstStartedAt == nil {
		m.firstStartedAt = &now
	}

	slog.Info("monitor starting", "run_id", m.runID,
		"license_types", m.cfg.LicenseTypes, "exam_centers", m.cfg.ExamCenterIDs,
		"seconds_inbetween", m.cfg.SecondsInbetween)

	go m.run(runCtx, m.done)
	return nil
}

// Stop cancels the poll loop and waits until the run has been recorded as
// finished, or ctx is done.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.cancel()
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns whether the poll loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Reconfigure replaces the configuration. A running loop picks it up at
// the start of its next sweep.
func (m *Monitor) Reconfigure(cfg model.MonitorConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	m.mu.Lock()
	m.cfg = cfg.Clone()
	m.mu.Unlock()
	return nil
}

// Config returns a copy of the configuration in effect.
func (m *Monitor) Config() model.MonitorConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Clone()
}

func (m *Monitor) Status() model.MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.totalRunning
	var taskDone *bool
	if m.cancel != nil {
		total += m.now().Sub(m.startedAt)
		running := false
		taskDone = &running
	}

	return model.MonitorStatus{
		Running:          m.cancel != nil,
		RunID:            m.runID,
		SecondsInbetween: m.cfg.SecondsInbetween,
		LicenseTypes:     append([]string(nil), m.cfg.LicenseTypes...),
		ExamCenters:      m.cfg.ExamCenterNames(),
		TaskDone:         taskDone,
		TotalTimeRunning: total.Round(time.Second).String(),
		FirstStartedAt:   m.firstStartedAt,
		LastStartedAt:    m.lastStartedAt,
		LastStoppedAt:    m.lastStoppedAt,
		StoppedDueTo:     m.stoppedDueTo,
	}
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	cause := StoppedCancelled
	defer func() {
		if r := recover(); r != nil {
			slog.Error("monitor goroutine panicked", "error", r, "stack", string(debug.Stack()))
			cause = fmt.Sprintf("panic: %v", r)
		}
		m.finish(cause)
		close(done)
	}()

	if err := m.poll(ctx); err != nil && ctx.Err() == nil {
		slog.Error("poll loop failed", "error", err)
		cause = err.Error()
	}
}

// finish records the end of a run and returns the monitor to idle.
func (m *Monitor) finish(cause string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.lastStoppedAt = &now
	m.totalRunning += now.Sub(m.startedAt)
	m.stoppedDueTo = cause
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil

	slog.Info("monitor stopped", "run_id", m.runID, "cause", cause,
		"total_time_running", m.totalRunning.Round(time.Second).String())
}
