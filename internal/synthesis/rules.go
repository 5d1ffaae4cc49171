package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Mobizinc/changegate/internal/types"
)

// SynthesizeWithRules derives a verdict deterministically from the check
// results. It is the fallback when the model path is unavailable and the
// reference behavior for tests: same input, same output, no side effects.
//
// Policy: PASSED when every check is true; FAILED when any hard requirement
// (check named has_* or is_*) is false; WARNING for any other partial
// failure, and for unknown component types (empty check set) — an unknown
// state is never a pass.
func SynthesizeWithRules(bundle *types.FactBundle) *types.Verdict {
	checks := bundle.Checks
	if len(checks) == 0 {
		return &types.Verdict{
			OverallStatus: types.VerdictWarning,
			Checks:        map[string]bool{},
			Synthesis: fmt.Sprintf("Component type %q is not recognized; no checks were evaluated. "+
				"Manual review required before this change proceeds.", bundle.ComponentType),
		}
	}

	var passed, failed []string
	hardFailure := false
	for name, ok := range checks {
		if ok {
			passed = append(passed, name)
			continue
		}
		failed = append(failed, name)
		if strings.HasPrefix(name, "has_") || strings.HasPrefix(name, "is_") {
			hardFailure = true
		}
	}
	sort.Strings(passed)
	sort.Strings(failed)

	status := types.VerdictPassed
	switch {
	case hardFailure:
		status = types.VerdictFailed
	case len(failed) > 0:
		status = types.VerdictWarning
	}

	verdict := &types.Verdict{
		OverallStatus: status,
		Checks:        copyChecks(checks),
		Synthesis:     renderRulesSynthesis(bundle, status, passed, failed),
	}
	for _, name := range failed {
		verdict.RemediationSteps = append(verdict.RemediationSteps, remediationFor(name))
	}
	return verdict
}

func renderRulesSynthesis(bundle *types.FactBundle, status types.OverallStatus, passed, failed []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s validation %s: %d of %d checks passed.\n",
		bundle.ComponentType, strings.ToLower(string(status)), len(passed), len(passed)+len(failed))
	for _, name := range passed {
		fmt.Fprintf(&b, "✓ %s\n", name)
	}
	for _, name := range failed {
		fmt.Fprintf(&b, "✗ %s\n", name)
	}
	if env := bundle.EnvironmentHealth; env != nil && env.Stale {
		fmt.Fprintf(&b, "Note: environment %s was last cloned %d days ago (threshold %d); results may not reflect production.\n",
			env.TargetInstance, env.DaysSinceClone, env.StaleAfterDays)
	}
	if len(bundle.CollectionErrors) > 0 {
		fmt.Fprintf(&b, "Collection issues: %s.\n", strings.Join(bundle.CollectionErrors, "; "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func remediationFor(checkName string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(checkName, "has_"), "is_")
	trimmed = strings.ReplaceAll(trimmed, "_", " ")
	return fmt.Sprintf("Resolve failing check %s (%s).", checkName, trimmed)
}

func copyChecks(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
