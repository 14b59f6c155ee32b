package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/secfuse/secfuse/internal/adapters"
	"github.com/secfuse/secfuse/internal/identity"
	"github.com/secfuse/secfuse/internal/models"
	"github.com/secfuse/secfuse/internal/rules"
	"github.com/secfuse/secfuse/internal/severity"
	"github.com/secfuse/secfuse/internal/store"
)

// FindingStore is the slice of the record store the worker needs.
type FindingStore interface {
	Apply(ctx context.Context, incoming models.Finding) (*store.ApplyResult, error)
}

// RuleEvaluator runs automation rules against a finding after it lands.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, f *models.Finding) []rules.RuleMatch
}

// Worker drains the ingestion queue: parse, normalize severity, compute
// identity, apply to the store, then run automation rules.
type Worker struct {
	id       string
	queue    *Queue
	registry *adapters.Registry
	resolver *identity.Resolver
	store    FindingStore
	rules    RuleEvaluator
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

type WorkerConfig struct {
	Queue    *Queue
	Registry *adapters.Registry
	Resolver *identity.Resolver
	Store    FindingStore
	Rules    RuleEvaluator
	Logger   *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	return &Worker{
		id:       workerID,
		queue:    cfg.Queue,
		registry: cfg.Registry,
		resolver: cfg.Resolver,
		store:    cfg.Store,
		rules:    cfg.Rules,
		logger:   cfg.Logger.With("worker", workerID),
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("ingestion worker starting")

	w.wg.Add(1)
	go w.heartbeatLoop()

	w.wg.Add(1)
	go w.processLoop()

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	w.logger.Info("ingestion worker stopped")
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.WorkerHeartbeat(w.ctx, w.id); err != nil && w.ctx.Err() == nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		env, err := w.queue.Dequeue(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if env == nil {
			time.Sleep(time.Second)
			continue
		}

		if err := w.process(w.ctx, env); err != nil {
			var perr *adapters.ParseError
			retryable := !errors.As(err, &perr)
			w.logger.Warn("envelope failed",
				"envelope", env.ID,
				"source", env.Source,
				"attempt", env.Attempts+1,
				"retryable", retryable,
				"error", err)
			if nerr := w.queue.Nack(w.ctx, env, err.Error(), retryable); nerr != nil {
				w.logger.Error("nack failed", "envelope", env.ID, "error", nerr)
			}
			continue
		}

		if err := w.queue.Ack(w.ctx, env); err != nil {
			w.logger.Error("ack failed", "envelope", env.ID, "error", err)
		}
	}
}

// process runs the full ingestion pipeline for one envelope. Parsing is
// all-or-nothing; once parsing succeeds each finding applies independently.
func (w *Worker) process(ctx context.Context, env *Envelope) error {
	adapter, err := w.registry.Get(env.Source)
	if err != nil {
		return &adapters.ParseError{Source: env.Source, Reason: err.Error()}
	}

	raws, err := adapter.Parse(env.Payload)
	if err != nil {
		return err
	}

	for _, raw := range raws {
		finding := w.Normalize(raw)
		res, err := w.store.Apply(ctx, finding)
		if err != nil {
			return fmt.Errorf("applying finding %s: %w", finding.Identity, err)
		}

		w.logger.Info("finding applied",
			"identity", res.Finding.Identity,
			"outcome", string(res.Outcome),
			"source", raw.SourceProduct,
			"severity", res.Finding.Severity.String())

		if w.rules != nil {
			w.rules.Evaluate(ctx, res.Finding)
		}
	}
	return nil
}

// Normalize turns a parsed raw finding into a canonical one: severity onto
// the ordinal scale, resource through the mapping registry, identity from
// the normalized pair.
func (w *Worker) Normalize(raw models.RawFinding) models.Finding {
	sev := severity.Normalize(raw.SourceProduct, raw.RawSeverity)

	resourceKey := w.resolver.ResourceKey(raw.Resource.ARN)

	observed := raw.ObservedAt
	if observed.IsZero() {
		observed = time.Now().UTC()
	}

	f := models.Finding{
		Identity:          identity.Compute(resourceKey, raw.CheckID),
		ResourceKey:       resourceKey,
		SourceID:          raw.SourceID,
		SourceProduct:     raw.SourceProduct,
		SourceClass:       raw.SourceClass,
		CheckID:           raw.CheckID,
		Title:             raw.Title,
		Description:       raw.Description,
		Resource:          raw.Resource,
		Severity:          sev.Severity,
		RawSeverity:       raw.RawSeverity,
		Principal:         raw.Principal,
		WorkflowState:     models.WorkflowNew,
		VerificationState: models.VerificationUnknown,
		ComplianceStatus:  raw.ComplianceStatus,
		Authoritative:     true,
		FirstObservedAt:   observed,
		LastObservedAt:    observed,
	}
	if sev.Flagged {
		f.Notes = append(f.Notes, fmt.Sprintf("severity %q from %s could not be normalized", raw.RawSeverity, raw.SourceProduct))
	}
	return f
}

var _ FindingStore = (*store.Store)(nil)
