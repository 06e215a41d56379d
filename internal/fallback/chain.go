package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reel/internal/engine"
	"reel/internal/logging"
	"reel/internal/services"
)

// Chain executes interchangeable engines for one stage in priority order.
// Engines are tried until one succeeds; a rate-limit signal aborts the chain
// outright because the limit belongs to the service, not the engine.
type Chain struct {
	stage   engine.Stage
	engines []engine.Descriptor
	limiter *Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewChain builds a chain over the given descriptors, sorted by priority.
func NewChain(stage engine.Stage, descriptors []engine.Descriptor, limiter *Limiter, logger *slog.Logger) (*Chain, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("stage %s: no engines configured", stage)
	}
	for _, d := range descriptors {
		if d.Run == nil {
			return nil, fmt.Errorf("stage %s: engine %s has no run function", stage, d.Name)
		}
	}
	if limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Chain{
		stage:   stage,
		engines: engine.ByPriority(descriptors),
		limiter: limiter,
		logger:  logging.WithComponent(logger, "fallback"),
		now:     time.Now,
	}, nil
}

// Stage returns the pipeline stage this chain serves.
func (c *Chain) Stage() engine.Stage { return c.stage }

// Engines returns the engine names in execution order.
func (c *Chain) Engines() []string {
	names := make([]string, len(c.engines))
	for i, d := range c.engines {
		names[i] = d.Name
	}
	return names
}

// Run tries each engine in priority order until one succeeds. Transient
// failures fall through to the next engine; a rate-limit signal starts the
// service cooldown and aborts; auth failures and cancellation abort as well.
// When every engine soft-fails the returned error wraps
// services.ErrExhausted.
func (c *Chain) Run(ctx context.Context, req engine.Request) (engine.Result, []engine.Attempt, error) {
	attempts := make([]engine.Attempt, 0, len(c.engines))

	if until, active := c.limiter.ActiveCooldown(req.Service); active {
		err := services.Wrap(services.ErrRateLimited, string(c.stage), "", fmt.Sprintf("service %s cooling down until %s", req.Service, until.Format(time.RFC3339)), nil)
		return engine.Result{}, attempts, err
	}

	for _, descriptor := range c.engines {
		if err := ctx.Err(); err != nil {
			return engine.Result{}, attempts, services.Wrap(services.ErrCancelled, string(c.stage), descriptor.Name, "", err)
		}

		started := c.now()
		result, err := descriptor.Run(ctx, req)
		elapsed := c.now().Sub(started)

		if err == nil {
			attempts = append(attempts, engine.Attempt{Engine: descriptor.Name, Kind: engine.OutcomeSuccess, Elapsed: elapsed})
			c.limiter.ReportSuccess(req.Service)
			c.logger.Info("engine succeeded",
				logging.String(logging.FieldStage, string(c.stage)),
				logging.String(logging.FieldEngine, descriptor.Name),
				logging.Duration("elapsed", elapsed),
			)
			return result, attempts, nil
		}

		switch services.Classify(err) {
		case services.KindRateLimited:
			attempts = append(attempts, engine.Attempt{Engine: descriptor.Name, Kind: engine.OutcomeRateLimited, Err: err, Elapsed: elapsed})
			hint, _ := services.RetryAfterHint(err)
			until := c.limiter.Signal(req.Service, hint)
			c.logger.Warn("rate limit signalled, aborting chain",
				logging.String(logging.FieldStage, string(c.stage)),
				logging.String(logging.FieldEngine, descriptor.Name),
				logging.String(logging.FieldService, req.Service),
				logging.Time("cooldown_until", until),
			)
			return engine.Result{}, attempts, err
		case services.KindAuth:
			attempts = append(attempts, engine.Attempt{Engine: descriptor.Name, Kind: engine.OutcomeAborted, Err: err, Elapsed: elapsed})
			c.logger.Warn("authentication required, aborting chain",
				logging.String(logging.FieldStage, string(c.stage)),
				logging.String(logging.FieldEngine, descriptor.Name),
				logging.Error(err),
			)
			return engine.Result{}, attempts, err
		case services.KindCancelled:
			attempts = append(attempts, engine.Attempt{Engine: descriptor.Name, Kind: engine.OutcomeAborted, Err: err, Elapsed: elapsed})
			return engine.Result{}, attempts, err
		default:
			attempts = append(attempts, engine.Attempt{Engine: descriptor.Name, Kind: engine.OutcomeSoftFail, Err: err, Elapsed: elapsed})
			c.logger.Warn("engine failed, trying next",
				logging.String(logging.FieldStage, string(c.stage)),
				logging.String(logging.FieldEngine, descriptor.Name),
				logging.Error(err),
			)
		}
	}

	err := services.Wrap(services.ErrExhausted, string(c.stage), "", fmt.Sprintf("%d engines failed", len(attempts)), lastAttemptErr(attempts))
	return engine.Result{}, attempts, err
}

func lastAttemptErr(attempts []engine.Attempt) error {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Err != nil {
			return attempts[i].Err
		}
	}
	return nil
}
