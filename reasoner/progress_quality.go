package reasoner

import (
	"context"

	"github.com/relaymesh/supervisor/domain"
)

// EvaluateProgress runs Reasoner.evaluate_progress (spec §4.1 phase 4).
// There is no documented fallback heuristic for progress in spec §4.3, so on
// failure the façade conservatively reports ProgressComplete: continuing to
// loop on a broken reasoner would never terminate, and failing the run
// outright would discard a perfectly usable final output already produced
// by Execution.
func (f *Facade) EvaluateProgress(ctx context.Context, task domain.Task, outputs map[string]string) (domain.ProgressVerdict, bool) {
	if f.reasoner == nil {
		return domain.ProgressVerdict{Status: domain.ProgressComplete}, true
	}
	verdict, err := f.reasoner.EvaluateProgress(ctx, task, outputs)
	if err == nil {
		err = validateAgainst(f.schemaFor(progressSchema), verdict)
	}
	if err != nil {
		f.logger.Warn(ctx, "reasoner evaluate_progress failed, treating as complete", "error", err.Error())
		return domain.ProgressVerdict{Status: domain.ProgressComplete}, true
	}
	switch verdict.Status {
	case domain.ProgressComplete, domain.ProgressRefine, domain.ProgressContinue:
		return verdict, false
	default:
		f.logger.Warn(ctx, "reasoner evaluate_progress returned unknown status, treating as complete", "status", string(verdict.Status))
		return domain.ProgressVerdict{Status: domain.ProgressComplete}, true
	}
}

// AssessQuality runs Reasoner.assess_quality (spec §4.1 phase 5), falling
// back to the fixed heuristic verdict from spec §4.3 on failure.
func (f *Facade) AssessQuality(ctx context.Context, task domain.Task, finalOutput string) (domain.QualityVerdict, bool) {
	if f.reasoner == nil {
		return f.fallbackQuality(), true
	}
	verdict, err := f.reasoner.AssessQuality(ctx, task, finalOutput)
	if err == nil {
		err = validateAgainst(f.schemaFor(qualitySchema), verdict)
	}
	if err != nil {
		f.logger.Warn(ctx, "reasoner assess_quality failed, using fallback", "error", err.Error())
		return f.fallbackQuality(), true
	}
	if verdict.Score < 0 || verdict.Score > 10 {
		f.logger.Warn(ctx, "reasoner assess_quality returned out-of-range score, using fallback")
		return f.fallbackQuality(), true
	}
	return verdict, false
}

func (f *Facade) fallbackQuality() domain.QualityVerdict {
	return domain.QualityVerdict{Score: 6, Missing: nil, Feedback: "fallback scoring"}
}
