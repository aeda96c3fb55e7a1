package valuation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/config"
	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/events"
	"github.com/aristath/fairvalue/internal/modules/cashflows"
	"github.com/aristath/fairvalue/internal/modules/curves"
	"github.com/aristath/fairvalue/internal/modules/discountspec"
	"github.com/aristath/fairvalue/internal/modules/fx"
	"github.com/aristath/fairvalue/internal/modules/positions"
	"github.com/aristath/fairvalue/internal/modules/runs"
	"github.com/aristath/fairvalue/internal/modules/securities"
)

// transientRetryDelay is the pause before the single retry of a failed
// result write.
const transientRetryDelay = 100 * time.Millisecond

// Orchestrator expands a valuation target and prices each security through
// the projection and discounting pipeline, fanning work across a bounded
// pool. Failures are isolated per security.
type Orchestrator struct {
	securities *securities.Repository
	positions  *positions.Repository
	specs      *discountspec.Repository
	curves     *curves.Provider
	projector  *cashflows.Projector
	engine     *Engine
	fx         *fx.Service
	runs       *runs.Repository
	bus        *events.Bus

	reportingCurrency string
	defaultWorkers    int
	maxWorkers        int
	log               zerolog.Logger
}

// NewOrchestrator wires the valuation pipeline.
func NewOrchestrator(
	cfg *config.Config,
	securitiesRepo *securities.Repository,
	positionsRepo *positions.Repository,
	specsRepo *discountspec.Repository,
	curveProvider *curves.Provider,
	projector *cashflows.Projector,
	engine *Engine,
	fxService *fx.Service,
	runsRepo *runs.Repository,
	bus *events.Bus,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		securities:        securitiesRepo,
		positions:         positionsRepo,
		specs:             specsRepo,
		curves:            curveProvider,
		projector:         projector,
		engine:            engine,
		fx:                fxService,
		runs:              runsRepo,
		bus:               bus,
		reportingCurrency: cfg.ReportingCurrency,
		defaultWorkers:    cfg.DefaultWorkers,
		maxWorkers:        cfg.MaxWorkers,
		log:               log.With().Str("service", "orchestrator").Logger(),
	}
}

// Request describes one valuation run to execute. The curve and currency
// options override each security's discount spec and the configured
// reporting currency for this run only.
type Request struct {
	RunType       domain.RunType
	TargetID      string
	ValuationDate time.Time
	Workers       int // 0 means the configured default
	CreatedBy     string

	BenchmarkCurve    string    // overrides the spec's benchmark curve
	SpreadCurve       *string   // overrides the spec's spread curve
	CurveDate         time.Time // zero means the valuation date
	ReportingCurrency string    // overrides the configured default
}

// securityOutcome is the per-security completion record.
type securityOutcome struct {
	securityID string
	err        error
}

// Run executes a valuation run to completion and returns the final run
// record. The context deadline is honored at security boundaries.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.ValuationRun, error) {
	run, targets, workers, err := o.prepare(req)
	if err != nil || run.Status == domain.RunFailed {
		return run, err
	}

	outcomes := o.execute(ctx, run, req, targets, workers)
	return o.finishRun(ctx, run, outcomes)
}

// backgroundRunTimeout bounds detached runs started over HTTP.
const backgroundRunTimeout = 30 * time.Minute

// Start validates and records the run, then executes it in the background.
// The returned record is the freshly-started run; callers poll or subscribe
// for completion.
func (o *Orchestrator) Start(req Request) (*domain.ValuationRun, error) {
	run, targets, workers, err := o.prepare(req)
	if err != nil || run.Status == domain.RunFailed {
		return run, err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRunTimeout)
		defer cancel()
		outcomes := o.execute(ctx, run, req, targets, workers)
		if _, ferr := o.finishRun(ctx, run, outcomes); ferr != nil {
			o.log.Error().Err(ferr).Str("run_id", run.ID).Msg("failed to finish run")
		}
	}()

	return run, nil
}

// prepare validates the request, records the run, and expands the target.
// Expansion failures close the run as failed; the caller sees the failed
// record with a nil error.
func (o *Orchestrator) prepare(req Request) (*domain.ValuationRun, []string, int, error) {
	if req.TargetID == "" {
		return nil, nil, 0, domain.NewValidationError("valuation target is required")
	}
	switch req.RunType {
	case domain.RunTypeSecurity, domain.RunTypePortfolio, domain.RunTypeFund:
	default:
		return nil, nil, 0, domain.NewValidationError("unknown run type %q", req.RunType)
	}

	run := &domain.ValuationRun{
		ID:            uuid.NewString(),
		RunType:       req.RunType,
		TargetID:      req.TargetID,
		ValuationDate: req.ValuationDate,
		Status:        domain.RunPending,
		StartedAt:     time.Now().UTC(),
		CreatedBy:     req.CreatedBy,
	}
	if err := o.runs.CreateRun(run); err != nil {
		return nil, nil, 0, err
	}

	targets, err := o.expandTargets(req.RunType, req.TargetID)
	if err != nil {
		run, err = o.failRun(run, fmt.Sprintf("target expansion failed: %v", err))
		return run, nil, 0, err
	}
	if len(targets) == 0 {
		run, err = o.failRun(run, fmt.Sprintf("no valuation targets found for %s %s", req.RunType, req.TargetID))
		return run, nil, 0, err
	}

	run.TotalSecurities = len(targets)
	run.Status = domain.RunRunning
	if err := o.runs.MarkRunning(run.ID, len(targets)); err != nil {
		run, err = o.failRun(run, fmt.Sprintf("failed to start run: %v", err))
		return run, nil, 0, err
	}

	o.bus.Publish(events.Event{Type: events.RunStarted, RunID: run.ID, Status: string(run.Status)})
	o.audit(run.ID, "", "run_started", map[string]any{
		"run_type":   string(req.RunType),
		"target_id":  req.TargetID,
		"securities": len(targets),
	}, req.CreatedBy)

	workers := o.clampWorkers(req.Workers, len(targets))
	o.log.Info().
		Str("run_id", run.ID).
		Str("target", req.TargetID).
		Int("securities", len(targets)).
		Int("workers", workers).
		Msg("Starting valuation run")

	return run, targets, workers, nil
}

// execute prices every target, serially for one worker, otherwise through
// a shared-queue worker pool. Progress is written after each security.
func (o *Orchestrator) execute(ctx context.Context, run *domain.ValuationRun, req Request, targets []string, workers int) []securityOutcome {
	var (
		mu        sync.Mutex
		outcomes  []securityOutcome
		completed int
	)

	record := func(id string, err error) {
		mu.Lock()
		outcomes = append(outcomes, securityOutcome{securityID: id, err: err})
		completed++
		done := completed
		mu.Unlock()

		if uerr := o.runs.UpdateProgress(run.ID, done, len(targets)); uerr != nil {
			o.log.Warn().Err(uerr).Str("run_id", run.ID).Msg("failed to update progress")
		}
		progress := 100.0 * float64(done) / float64(len(targets))

		if err != nil {
			o.log.Warn().Err(err).Str("run_id", run.ID).Str("security_id", id).Msg("security valuation failed")
			o.bus.Publish(events.Event{
				Type: events.SecurityFailed, RunID: run.ID, SecurityID: id,
				Progress: progress, Error: err.Error(),
			})
			return
		}
		o.bus.Publish(events.Event{
			Type: events.SecurityValued, RunID: run.ID, SecurityID: id, Progress: progress,
		})
	}

	if workers <= 1 {
		for _, id := range targets {
			if ctx.Err() != nil {
				return outcomes
			}
			record(id, o.valueSecurity(ctx, run, req, id))
		}
		return outcomes
	}

	queue := make(chan string)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range queue {
				record(id, o.valueSecurity(ctx, run, req, id))
			}
		}()
	}

feed:
	for _, id := range targets {
		select {
		case <-ctx.Done():
			break feed
		case queue <- id:
		}
	}
	close(queue)
	wg.Wait()

	return outcomes
}

// valueSecurity runs the full pipeline for one security: load, project,
// discount, convert, classify, persist. Any returned error marks only this
// security as failed.
func (o *Orchestrator) valueSecurity(ctx context.Context, run *domain.ValuationRun, req Request, securityID string) error {
	sec, err := o.securities.GetWithClassification(securityID)
	if err != nil {
		return fmt.Errorf("load security: %w", err)
	}
	if err := sec.Validate(); err != nil {
		return err
	}

	// The discount spec may be absent; run options fill its place.
	spec, err := o.specs.GetBySecurity(securityID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		spec = &domain.DiscountSpec{SecurityID: securityID}
	}

	benchmark := req.BenchmarkCurve
	if benchmark == "" {
		benchmark = spec.BenchmarkCurve
	}
	if benchmark == "" {
		return domain.NewValidationError("security %s has no benchmark curve", securityID)
	}
	spreadCurve := req.SpreadCurve
	if spreadCurve == nil {
		spreadCurve = spec.SpreadCurve
	}
	curveDate := req.CurveDate
	if curveDate.IsZero() {
		curveDate = run.ValuationDate
	}
	reporting := o.reportingCurrency
	if req.ReportingCurrency != "" {
		reporting = req.ReportingCurrency
	}

	composite, err := o.curves.LoadComposite(ctx, benchmark, spreadCurve, curveDate, spec.ManualSpreads)
	if err != nil {
		return err
	}

	proj, err := o.projector.Project(sec, run.ValuationDate)
	if err != nil {
		return err
	}

	priced, err := o.engine.Price(sec, proj, composite, spec.Standing, run.ValuationDate)
	if err != nil {
		return err
	}

	fairValue := priced.DirtyValue
	currency := sec.Currency
	var fxResolution *fx.Resolution
	if sec.Currency != reporting {
		fairValue, fxResolution, err = o.fx.Convert(ctx, priced.DirtyValue, sec.Currency, reporting, run.ValuationDate)
		if err != nil {
			return err
		}
		currency = reporting
	}

	bookValue, err := o.positions.BookValue(securityID)
	if err != nil {
		return err
	}
	var unrealized float64
	if bookValue != nil {
		unrealized = fairValue - *bookValue
	}

	ifrsLevel := ClassifyIFRSLevel(sec, spec)
	ytm := YieldToMaturity(sec, proj, priced.DirtyValue, run.ValuationDate)

	result := &domain.PriceResult{
		RunID:              run.ID,
		SecurityID:         securityID,
		ValuationDate:      run.ValuationDate,
		BookValue:          bookValue,
		PresentValue:       priced.PresentValue,
		AccruedInterest:    priced.AccruedInterest,
		FairValue:          fairValue,
		UnrealizedGainLoss: unrealized,
		Currency:           currency,
		IFRSLevel:          &ifrsLevel,
	}

	steps := priced.Steps
	for i := range steps {
		steps[i].RunID = run.ID
	}

	details := map[string]any{
		"curve_setup":       priced.CurveSetup,
		"macaulay_duration": priced.MacaulayDuration,
		"convexity":         priced.Convexity,
		"future_flows":      len(proj.Future),
	}
	if ytm != nil {
		details["yield_to_maturity"] = *ytm
	}
	if fxResolution != nil {
		details["fx"] = map[string]any{
			"rate":   fxResolution.Rate,
			"source": fxResolution.Source,
			"from":   sec.Currency,
			"to":     reporting,
		}
	}
	audit := &domain.AuditEntry{
		RunID:      run.ID,
		SecurityID: securityID,
		Action:     "security_valued",
		Details:    details,
		CreatedBy:  run.CreatedBy,
	}

	if err := o.runs.SaveResult(result, steps, audit); err != nil {
		// One retry covers transient lock contention on runs.db
		if domain.IsTransientStore(err) {
			time.Sleep(transientRetryDelay)
			err = o.runs.SaveResult(result, steps, audit)
		}
		if err != nil {
			return fmt.Errorf("persist result: %w", err)
		}
	}

	return nil
}

// expandTargets resolves the request target to the ordered set of security ids.
func (o *Orchestrator) expandTargets(runType domain.RunType, targetID string) ([]string, error) {
	switch runType {
	case domain.RunTypeSecurity:
		exists, err := o.securities.Exists(targetID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, nil
		}
		return []string{targetID}, nil
	case domain.RunTypePortfolio:
		return o.positions.ExpandPortfolio(targetID)
	case domain.RunTypeFund:
		return o.positions.ExpandFund(targetID)
	}
	return nil, domain.NewValidationError("unknown run type %q", runType)
}

// clampWorkers applies the request override, the configured default, and
// the hard bounds, never exceeding the target count.
func (o *Orchestrator) clampWorkers(requested, targets int) int {
	workers := requested
	if workers <= 0 {
		workers = o.defaultWorkers
	}
	if workers > o.maxWorkers {
		workers = o.maxWorkers
	}
	if workers > 16 {
		workers = 16
	}
	if workers < 1 {
		workers = 1
	}
	if workers > targets {
		workers = targets
	}
	return workers
}

// finishRun derives the terminal status from the outcomes and closes the run.
func (o *Orchestrator) finishRun(ctx context.Context, run *domain.ValuationRun, outcomes []securityOutcome) (*domain.ValuationRun, error) {
	var failures []string
	for _, out := range outcomes {
		if out.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", out.securityID, out.err))
		}
	}

	// Deadline-skipped securities count as per-security errors, not a
	// run failure.
	skipped := run.TotalSecurities - len(outcomes)
	if ctx.Err() != nil && skipped > 0 {
		failures = append(failures, fmt.Sprintf("%d securities skipped: %v", skipped, ctx.Err()))
	}

	var (
		status  domain.RunStatus
		message string
	)
	switch {
	case skipped == 0 && len(failures) == len(outcomes) && len(outcomes) > 0:
		status = domain.RunFailed
		message = joinTruncated(failures)
	case len(failures) > 0:
		status = domain.RunCompletedWithErrors
		message = joinTruncated(failures)
	default:
		status = domain.RunCompleted
	}

	if err := o.runs.FinishRun(run.ID, status, message); err != nil {
		return nil, err
	}
	run.Status = status
	run.ErrorMessage = message
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.CompletedSecurities = len(outcomes)
	if run.TotalSecurities > 0 {
		run.Progress = float64(int(100.0*float64(len(outcomes))/float64(run.TotalSecurities) + 0.5))
	}

	o.bus.Publish(events.Event{
		Type: events.RunCompleted, RunID: run.ID,
		Progress: run.Progress, Status: string(status), Error: message,
	})
	o.audit(run.ID, "", "run_completed", map[string]any{
		"status":   string(status),
		"total":    run.TotalSecurities,
		"failures": len(failures),
	}, run.CreatedBy)

	o.log.Info().
		Str("run_id", run.ID).
		Str("status", string(status)).
		Int("total", run.TotalSecurities).
		Int("failures", len(failures)).
		Msg("Valuation run finished")

	return run, nil
}

func (o *Orchestrator) failRun(run *domain.ValuationRun, message string) (*domain.ValuationRun, error) {
	if err := o.runs.FinishRun(run.ID, domain.RunFailed, message); err != nil {
		return nil, err
	}
	run.Status = domain.RunFailed
	run.ErrorMessage = message
	o.bus.Publish(events.Event{
		Type: events.RunCompleted, RunID: run.ID,
		Status: string(domain.RunFailed), Error: message,
	})
	return run, nil
}

func (o *Orchestrator) audit(runID, securityID, action string, details map[string]any, createdBy string) {
	err := o.runs.Audit(&domain.AuditEntry{
		RunID:      runID,
		SecurityID: securityID,
		Action:     action,
		Details:    details,
		CreatedBy:  createdBy,
	})
	if err != nil {
		o.log.Warn().Err(err).Str("run_id", runID).Str("action", action).Msg("failed to write audit entry")
	}
}

// joinTruncated joins failure messages, capping the stored message size.
func joinTruncated(failures []string) string {
	const maxLen = 2000
	joined := strings.Join(failures, "; ")
	if len(joined) > maxLen {
		joined = joined[:maxLen] + "..."
	}
	return joined
}
