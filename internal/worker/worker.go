// Package worker consumes queued simulation requests from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/simulation"
)

// Runner executes one simulation.
type Runner interface {
	Run(ctx context.Context, req *domain.SimulationRequest, meta simulation.Meta) (*domain.Simulation, error)
}

// Worker runs simulations requested through the EventBus.
type Worker struct {
	events domain.EventBus
	runner Runner

	slots     chan struct{}
	processed atomic.Int64
	failed    atomic.Int64

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds the simulations running at once. Zero means one.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(events domain.EventBus, runner Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		events: events,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the simulation request topic.
func (w *Worker) Start(cfg Config) error {
	n := cfg.Concurrency
	if n <= 0 {
		n = 1
	}
	w.slots = make(chan struct{}, n)

	sub, err := w.events.Subscribe(w.ctx, domain.TopicSimulationRequested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("simulation worker started",
		"topic", domain.TopicSimulationRequested,
		"concurrency", n,
	)
	return nil
}

// handleMessage waits for a free slot and runs the request in the background,
// so a slow estimate does not stall delivery of the next message.
func (w *Worker) handleMessage(_ context.Context, msg *domain.Message) error {
	var req simulation.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse simulation request",
			"message_id", msg.ID,
			"error", err,
		)
		w.failed.Add(1)
		return err
	}
	if req.TraceID == "" {
		req.TraceID = bus.TraceID(msg)
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	if err := w.ctx.Err(); err != nil {
		return err
	}
	select {
	case w.slots <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		w.process(&req)
	}()
	return nil
}

func (w *Worker) process(req *simulation.Request) {
	start := time.Now()

	// Accepted requests finish even while the worker is stopping.
	sim, err := w.runner.Run(context.WithoutCancel(w.ctx), &req.Simulation, req.Meta)
	if err != nil {
		// The runner already published the failure event.
		w.failed.Add(1)
		return
	}
	w.processed.Add(1)

	slog.Info("simulation processed",
		"simulation_id", sim.ID,
		"trace_id", sim.TraceID,
		"outcome", sim.Estimate.Outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop gracefully stops the worker and waits for running simulations.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.cancel()
	w.wg.Wait()

	slog.Info("simulation worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
