// Package sched implements the multi-rate scheduler/dispatcher (C6): a
// fixed T1-T5 task set pulling from the priority queue, enforcing the
// admission rule and deadline bookkeeping, and invoking the link
// transmitter (C7) through a narrow Transmitter port.
package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/orbitlink/satlink/clog"
	"github.com/orbitlink/satlink/fault"
	"github.com/orbitlink/satlink/ids"
	"github.com/orbitlink/satlink/spacecmd"
	"github.com/orbitlink/satlink/squeue"
)

// Task periods (§4.6). T2's period is the sole configurable one; Config.Valid
// rejects a value outside [T2PeriodMin, T2PeriodMax].
const (
	T1Period = 1 * time.Millisecond
	T2PeriodDefault = 10 * time.Millisecond
	T2PeriodMin     = 10 * time.Millisecond
	T2PeriodMax     = 100 * time.Millisecond
	T3Period = 10 * time.Millisecond
	T4Period = 5 * time.Second
	T5Period = 60 * time.Second
)

// Transmitter is the narrow port C6 dispatches through, implemented by
// C7's link manager. Mirrors the teacher's pattern of depending on a
// single-method interface rather than a concrete transport.
type Transmitter interface {
	Transmit(ctx context.Context, msg *spacecmd.Message) error
}

// TelemetryAssembler builds the next TelemetryPacket for T2 to enqueue.
// The physical sensor read behind it is out of scope; this is the seam.
type TelemetryAssembler func() *spacecmd.Message

// IngressPoller drains one decoded inbound message from the named band in
// priority order (UHF→S→X per §4.6 T3); returns nil if nothing pending.
type IngressPoller func(ctx context.Context, band ids.BandType) *spacecmd.Message

// CommandExecutor hands a decoded inbound message to the (out of scope)
// command executor.
type CommandExecutor func(msg *spacecmd.Message)

// HealthRecomputer recomputes system health for T4; returning true
// signals Critical health, which T4 raises to C8.
type HealthRecomputer func() (critical bool)

// DeadlineMiss is reported when a dispatched message's observed latency
// exceeds its priority's budget (§4.6 "Deadline check").
type DeadlineMiss struct {
	Message      *spacecmd.Message
	ObservedMs   int64
	BudgetMs     uint32
	TraceID      string
}

// Config configures the scheduler, following the teacher's
// Config+Valid()+DefaultConfig() pattern: zero values fall back to
// spec-mandated defaults, out-of-range values are rejected.
type Config struct {
	QueueCapacity int
	T2Period      time.Duration
}

// Valid fills in defaults for unset fields and rejects out-of-range ones.
func (c *Config) Valid() error {
	if c == nil {
		return errors.New("invalid pointer")
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 256
	}
	if c.T2Period == 0 {
		c.T2Period = T2PeriodDefault
	} else if c.T2Period < T2PeriodMin || c.T2Period > T2PeriodMax {
		return errors.New("T2Period not in [10ms, 100ms]")
	}
	return nil
}

// DefaultConfig returns the spec-mandated default configuration.
func DefaultConfig() Config {
	return Config{QueueCapacity: 256, T2Period: T2PeriodDefault}
}

// metrics groups the scheduler's prometheus instrumentation. Registered
// with a caller-supplied registerer so tests can use a fresh registry.
type metrics struct {
	queueDepth        *prometheus.GaugeVec
	deadlineMisses    *prometheus.CounterVec
	admissionRejects  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "satlink",
			Subsystem: "sched",
			Name:      "queue_depth",
			Help:      "Current number of messages queued, by priority.",
		}, []string{"priority"}),
		deadlineMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satlink",
			Subsystem: "sched",
			Name:      "deadline_misses_total",
			Help:      "Dispatched messages whose observed latency exceeded their priority budget.",
		}, []string{"priority"}),
		admissionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satlink",
			Subsystem: "sched",
			Name:      "admission_rejections_total",
			Help:      "Push attempts rejected by the admission rule, by priority.",
		}, []string{"priority"}),
	}
	if reg != nil {
		reg.MustRegister(m.queueDepth, m.deadlineMisses, m.admissionRejects)
	}
	return m
}

// Scheduler is the T1-T5 task set described by §4.6.
type Scheduler struct {
	queue       *squeue.Queue
	transmitter Transmitter
	config      Config
	metrics     *metrics
	log         clog.Clog

	mu                  sync.Mutex
	onDeadlineMiss      []func(DeadlineMiss)
	onDispatch          []func(msg *spacecmd.Message, traceID string)
	onAdmissionRejected []func(priority ids.MessagePriority)

	telemetry TelemetryAssembler
	ingress   IngressPoller
	executor  CommandExecutor
	health    HealthRecomputer
	onHealthCritical func()

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Scheduler. registerer may be nil to skip metrics
// registration (e.g. in unit tests that don't care about prometheus).
func New(cfg Config, transmitter Transmitter, registerer prometheus.Registerer) (*Scheduler, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	logger := clog.NewLogger("sched")
	logger.LogMode(true)
	return &Scheduler{
		queue:       squeue.New(cfg.QueueCapacity),
		transmitter: transmitter,
		config:      cfg,
		metrics:     newMetrics(registerer),
		log:         logger,
	}, nil
}

// OnDeadlineMiss registers a sink invoked whenever a dispatch exceeds its
// priority's deadline.
func (s *Scheduler) OnDeadlineMiss(fn func(DeadlineMiss)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDeadlineMiss = append(s.onDeadlineMiss, fn)
}

// OnDispatch registers a sink invoked on every successful pop+transmit.
func (s *Scheduler) OnDispatch(fn func(msg *spacecmd.Message, traceID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDispatch = append(s.onDispatch, fn)
}

// OnAdmissionRejected registers a sink invoked whenever Enqueue is refused
// by the queue's admission rule.
func (s *Scheduler) OnAdmissionRejected(fn func(priority ids.MessagePriority)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAdmissionRejected = append(s.onAdmissionRejected, fn)
}

// SetTelemetryAssembler wires T2's source of TelemetryPackets.
func (s *Scheduler) SetTelemetryAssembler(fn TelemetryAssembler) { s.telemetry = fn }

// SetIngressPoller wires T3's ingress source.
func (s *Scheduler) SetIngressPoller(fn IngressPoller) { s.ingress = fn }

// SetCommandExecutor wires T3's decoded-packet sink.
func (s *Scheduler) SetCommandExecutor(fn CommandExecutor) { s.executor = fn }

// SetHealthRecomputer wires T4's health recomputation, and onCritical is
// invoked when it reports a Critical status (the "raise event to C8" step).
func (s *Scheduler) SetHealthRecomputer(fn HealthRecomputer, onCritical func()) {
	s.health = fn
	s.onHealthCritical = onCritical
}

// WireFaultManager subscribes the scheduler's queue to fm's health status
// (§5 "C8 influences C5's admission"): every raised fault re-evaluates
// whether health requires attention, tightening or relaxing the queue's
// admission thresholds accordingly.
func (s *Scheduler) WireFaultManager(fm *fault.Manager) {
	fm.Subscribe(func(_ fault.Fault, _ fault.RecoveryAction) {
		s.queue.SetDegradedAdmission(fm.HealthStatus().RequiresAttention())
	})
}

// Enqueue pushes msg through the queue's admission rule, firing
// OnAdmissionRejected and the rejection counter on refusal.
func (s *Scheduler) Enqueue(msg *spacecmd.Message) error {
	if err := s.queue.Push(msg); err != nil {
		s.metrics.admissionRejects.WithLabelValues(msg.Priority.String()).Inc()
		s.log.Warn("admission rejected for priority %s: %v", msg.Priority, err)
		s.mu.Lock()
		hooks := append([]func(ids.MessagePriority){}, s.onAdmissionRejected...)
		s.mu.Unlock()
		for _, h := range hooks {
			h(msg.Priority)
		}
		return err
	}
	return nil
}

// recordQueueDepth refreshes the queue-depth gauge vector from current stats.
func (s *Scheduler) recordQueueDepth() {
	stats := s.queue.Stats()
	s.metrics.queueDepth.WithLabelValues(ids.PriorityLow.String()).Set(float64(stats.LowPriority))
	s.metrics.queueDepth.WithLabelValues(ids.PriorityMedium.String()).Set(float64(stats.MediumPriority))
	s.metrics.queueDepth.WithLabelValues(ids.PriorityHigh.String()).Set(float64(stats.HighPriority))
	s.metrics.queueDepth.WithLabelValues(ids.PriorityCritical.String()).Set(float64(stats.CriticalPriority))
	s.metrics.queueDepth.WithLabelValues(ids.PriorityEmergency.String()).Set(float64(stats.EmergencyPriority))
}

// checkDeadline reports whether msg's observed latency (now minus its
// creation timestamp) exceeds its priority's max_latency_ms, returning
// the DeadlineMiss to report if so.
func checkDeadline(msg *spacecmd.Message, now ids.Timestamp) (DeadlineMiss, bool) {
	observed := now.Sub(msg.TimestampNs)
	budget := msg.Priority.MaxLatencyMs()
	observedMs := observed.Milliseconds()
	if observedMs > int64(budget) {
		return DeadlineMiss{Message: msg, ObservedMs: observedMs, BudgetMs: budget}, true
	}
	return DeadlineMiss{}, false
}

// DispatchOne pops the highest-priority message, checks its deadline,
// transmits it via the Transmitter port, and fires OnDispatch/
// OnDeadlineMiss. Returns false if the queue was empty.
func (s *Scheduler) DispatchOne(ctx context.Context) bool {
	m := s.queue.Pop()
	if m == nil {
		return false
	}

	traceID := uuid.New().String()
	now := ids.Now()

	if miss, isMiss := checkDeadline(m, now); isMiss {
		miss.TraceID = traceID
		s.metrics.deadlineMisses.WithLabelValues(m.Priority.String()).Inc()
		s.log.Error("deadline miss trace=%s priority=%s observed=%dms budget=%dms", traceID, m.Priority, miss.ObservedMs, miss.BudgetMs)
		s.mu.Lock()
		hooks := append([]func(DeadlineMiss){}, s.onDeadlineMiss...)
		s.mu.Unlock()
		for _, h := range hooks {
			h(miss)
		}
	}

	if s.transmitter != nil {
		_ = s.transmitter.Transmit(ctx, m)
	}

	s.mu.Lock()
	hooks := append([]func(*spacecmd.Message, string){}, s.onDispatch...)
	s.mu.Unlock()
	for _, h := range hooks {
		h(m, traceID)
	}
	return true
}

// Start launches T1-T5 as goroutines cooperating on independent tickers,
// cancellable at period boundaries via ctx (§4.6 "Cancellation").
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.runTask(ctx, T1Period, s.runT1)
	s.runTask(ctx, s.config.T2Period, s.runT2)
	s.runTask(ctx, T3Period, s.runT3)
	s.runTask(ctx, T4Period, s.runT4)
	s.runTask(ctx, T5Period, s.runT5)
}

// Stop cancels all running tasks and waits for them to observe
// cancellation at their next period boundary.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, period time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// runT1 is the critical processor: dispatch any Emergency/Critical
// present, else dispatch up to one lower-priority item.
func (s *Scheduler) runT1(ctx context.Context) {
	peek := s.queue.Peek()
	if peek != nil && peek.Priority.IsRealTime() {
		for {
			head := s.queue.Peek()
			if head == nil || !head.Priority.IsRealTime() {
				break
			}
			s.DispatchOne(ctx)
		}
		return
	}
	s.DispatchOne(ctx)
}

// runT2 is the telemetry collector: assemble and enqueue at Medium.
func (s *Scheduler) runT2(ctx context.Context) {
	if s.telemetry == nil {
		return
	}
	msg := s.telemetry()
	if msg == nil {
		return
	}
	_ = s.Enqueue(msg)
}

// runT3 is the comms manager: drain telemetry egress (handled by runT1/
// DispatchOne picking up Medium-priority telemetry already in-queue), then
// poll ingress across bands in order UHF→S→X, handing decoded packets to
// the command executor.
func (s *Scheduler) runT3(ctx context.Context) {
	if s.ingress == nil || s.executor == nil {
		return
	}
	for _, band := range []ids.BandType{ids.UhfBand, ids.SBand, ids.XBand} {
		if msg := s.ingress(ctx, band); msg != nil {
			s.executor(msg)
		}
	}
}

// runT4 is the health monitor: recompute health, raising a Critical event
// to the registered sink.
func (s *Scheduler) runT4(ctx context.Context) {
	if s.health == nil {
		return
	}
	if s.health() && s.onHealthCritical != nil {
		s.onHealthCritical()
	}
}

// runT5 is housekeeping: remove expired messages and refresh statistics.
func (s *Scheduler) runT5(ctx context.Context) {
	s.queue.RemoveExpired(ids.Now().UnixSeconds())
	s.recordQueueDepth()
}
