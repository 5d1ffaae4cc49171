// Package synthesis turns a fact bundle into a verdict. The model path is
// primary; a deterministic rules engine produces the verdict whenever the
// model is unconfigured, unreachable, or returns something unusable. A
// synthesis failure therefore never fails the pipeline.
package synthesis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/Mobizinc/changegate/internal/types"
)

const (
	// DefaultTimeout bounds one model round trip including retries.
	DefaultTimeout = 60 * time.Second

	responseMaxTokens = 1024
)

// Config wires a Synthesizer.
type Config struct {
	Completer Completer // nil means rules-only
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Synthesizer produces verdicts. Safe for concurrent use.
type Synthesizer struct {
	completer Completer
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Synthesizer. A nil Completer yields a rules-only synthesizer.
func New(cfg Config) *Synthesizer {
	s := &Synthesizer{
		completer: cfg.Completer,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Synthesize returns a verdict for the bundle. The check results always come
// from the bundle, never from the model: the model interprets and narrates,
// the collector decides what passed.
func (s *Synthesizer) Synthesize(ctx context.Context, req *types.ValidationRequest, bundle *types.FactBundle) *types.Verdict {
	if s.completer == nil {
		return SynthesizeWithRules(bundle)
	}

	// An empty check set means the component type had no registered
	// definition. There are no facts for the model to judge, so the rules
	// engine answers directly; an unknown state is never a pass.
	if len(bundle.Checks) == 0 {
		return SynthesizeWithRules(bundle)
	}

	verdict, err := s.synthesizeWithModel(ctx, req, bundle)
	if err != nil {
		s.logger.Warn("model synthesis failed, falling back to rules",
			"change_id", req.ChangeID,
			"component_type", req.ComponentType,
			"error", err)
		return SynthesizeWithRules(bundle)
	}
	return verdict
}

func (s *Synthesizer) synthesizeWithModel(ctx context.Context, req *types.ValidationRequest, bundle *types.FactBundle) (*types.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt, err := renderPrompt(req, bundle)
	if err != nil {
		return nil, err
	}

	resp, err := s.completer.Complete(ctx, prompt, responseMaxTokens)
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(resp)
	if err != nil {
		return nil, err
	}

	var mv modelVerdict
	if err := json.Unmarshal(raw, &mv); err != nil {
		return nil, err
	}

	status, ok := parseOverallStatus(mv.OverallStatus)
	if !ok {
		return nil, &invalidStatusError{got: mv.OverallStatus}
	}

	return &types.Verdict{
		OverallStatus:    status,
		Checks:           copyChecks(bundle.Checks),
		Synthesis:        mv.Synthesis,
		Risks:            mv.Risks,
		RemediationSteps: mv.RequiredActions,
	}, nil
}

// parseOverallStatus accepts only the three documented values. Historical
// model outputs sometimes used PASSED_WITH_WARNINGS; that maps to WARNING.
func parseOverallStatus(s string) (types.OverallStatus, bool) {
	switch s {
	case string(types.VerdictPassed):
		return types.VerdictPassed, true
	case string(types.VerdictFailed):
		return types.VerdictFailed, true
	case string(types.VerdictWarning), "PASSED_WITH_WARNINGS":
		return types.VerdictWarning, true
	default:
		return "", false
	}
}

type invalidStatusError struct {
	got string
}

func (e *invalidStatusError) Error() string {
	return "model returned invalid overall_status " + strconv.Quote(e.got)
}
