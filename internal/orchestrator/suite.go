// File: internal/orchestrator/suite.go
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
)

// RunSuite executes the test cases strictly one after another and aggregates
// their outcomes. The device is returned to the home screen between cases so
// each case starts from a known state. A panic inside one case is confined to
// that case and reported as an errored FAIL.
func (o *Orchestrator) RunSuite(ctx context.Context, cases []schemas.TestCase) ([]*schemas.TestResult, schemas.SuiteSummary) {
	results := make([]*schemas.TestResult, 0, len(cases))
	var summary schemas.SuiteSummary
	summary.Total = len(cases)

	for i, tc := range cases {
		if ctx.Err() != nil {
			o.logger.Warn("Suite cancelled", zap.Int("remaining", len(cases)-i))
			break
		}

		if i > 0 {
			if err := o.device.GoHome(ctx); err != nil {
				o.logger.Warn("Could not return to home screen between cases", zap.Error(err))
			}
			o.sleep(ctx, o.cfg.TestCaseDelay)
		}

		result := o.runCaseGuarded(ctx, tc)
		results = append(results, result)

		switch {
		case result.Verdict.Result == schemas.VerdictPass:
			summary.Passed++
		default:
			summary.Failed++
		}
		if result.Verdict.BugFound {
			summary.BugCount++
		}
		if result.Errored {
			summary.Errored++
		}
	}

	o.logger.Info("Suite finished",
		zap.Int("total", summary.Total),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Int("errored", summary.Errored),
		zap.Int("bugs_found", summary.BugCount),
	)
	return results, summary
}

// runCaseGuarded shields the suite from a panicking case. The synthesized
// errored result is persisted like any other so the per-case result.json
// artifact still exists.
func (o *Orchestrator) runCaseGuarded(ctx context.Context, tc schemas.TestCase) (result *schemas.TestResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Test case panicked", zap.String("test_id", tc.ID), zap.Any("panic", r))
			runID, store := o.beginRun(tc)
			result = &schemas.TestResult{
				RunID:  runID,
				TestID: tc.ID,
				Goal:   tc.Goal,
				Verdict: schemas.Verdict{
					Result:   schemas.VerdictFail,
					Reason:   fmt.Sprintf("test run aborted by internal error: %v", r),
					BugFound: false,
				},
				Duration:  time.Since(start),
				Timestamp: start,
				Errored:   true,
			}
			o.persist(store, runID, result, nil)
		}
	}()
	return o.RunTestCase(ctx, tc)
}
