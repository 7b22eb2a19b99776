package workflow

import (
	"context"
	"errors"

	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/monitor"
	"github.com/classletter/newsletter-engine/internal/recovery"
)

// Step is one unit of phase work.
type Step func(ctx context.Context) error

// WithPerfMonitoring records step under label in m.
func WithPerfMonitoring(m *monitor.Monitor, label string, step Step) Step {
	return func(ctx context.Context) error {
		return m.Do(label, func() error { return step(ctx) })
	}
}

// WithErrorHandling classifies a failure of step and hands it to the policy.
// When recovery succeeds, onRecovered is called and step runs exactly once
// more; a second failure is reported without another recovery attempt. The
// returned error is the one that ended the step, unwrapped. If onRecovered
// fails, its error is joined to the step's so both stay in the chain. Failures caused
// by ctx ending are returned as is.
func WithErrorHandling(p *recovery.Policy, rc domain.RunContext, step Step, onRecovered func(context.Context, recovery.Outcome) error) Step {
	return func(ctx context.Context) error {
		err := step(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}

		out := p.Recover(ctx, rc, recovery.Classify(err))
		if !out.Recovered {
			return err
		}
		if onRecovered != nil {
			if hookErr := onRecovered(ctx, out); hookErr != nil {
				return errors.Join(err, hookErr)
			}
		}

		err = step(ctx)
		if err != nil && ctx.Err() == nil {
			p.Report(ctx, rc, recovery.Classify(err))
		}
		return err
	}
}
