package pipeline

import (
	"fmt"
	"strings"

	"github.com/Mobizinc/changegate/internal/types"
)

var statusMarkers = map[types.OverallStatus]string{
	types.VerdictPassed:  "✅",
	types.VerdictFailed:  "❌",
	types.VerdictWarning: "⚠️",
}

// RenderWorkNote formats the verdict for the change record's work notes.
// Plain text with unicode markers; ServiceNow renders it as-is.
func RenderWorkNote(req *types.ValidationRequest, verdict *types.Verdict) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s Automated validation for %s: %s\n",
		statusMarkers[verdict.OverallStatus], req.ChangeNumber, verdict.OverallStatus)

	if verdict.Synthesis != "" {
		b.WriteString("\n")
		b.WriteString(verdict.Synthesis)
		b.WriteString("\n")
	}

	if len(verdict.Risks) > 0 {
		b.WriteString("\nRisks:\n")
		for _, r := range verdict.Risks {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	if len(verdict.RemediationSteps) > 0 {
		b.WriteString("\nRequired actions:\n")
		for _, step := range verdict.RemediationSteps {
			fmt.Fprintf(&b, "- %s\n", step)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
