package synthesis

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/Mobizinc/changegate/internal/types"
)

type promptData struct {
	ChangeNumber  string
	ComponentType string
	RequestedBy   string
	FactsJSON     string
}

var validationPrompt = template.Must(template.New("validation").Parse(validationPromptTemplate))

// renderPrompt builds the synthesis prompt from the fact bundle. The bundle
// is embedded as JSON so the model sees exactly what was (and was not)
// collected, including the failure-derived check values.
func renderPrompt(req *types.ValidationRequest, bundle *types.FactBundle) (string, error) {
	factsJSON, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal fact bundle: %w", err)
	}

	var b strings.Builder
	err = validationPrompt.Execute(&b, promptData{
		ChangeNumber:  req.ChangeNumber,
		ComponentType: req.ComponentType,
		RequestedBy:   req.RequestedBy,
		FactsJSON:     string(factsJSON),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

// modelVerdict is the JSON shape requested from the model.
type modelVerdict struct {
	OverallStatus      string   `json:"overall_status"`
	Risks              []string `json:"risks"`
	RequiredActions    []string `json:"required_actions"`
	Synthesis          string   `json:"synthesis"`
	DocumentationReady bool     `json:"documentation_ready"`
}

const validationPromptTemplate = `You are a QA analyst reviewing a ServiceNow change request before deployment.

**Change:** {{.ChangeNumber}}
**Component type:** {{.ComponentType}}
{{if .RequestedBy}}**Requested by:** {{.RequestedBy}}
{{end}}
The automated fact collection produced the following data. Check values of false may mean the underlying fact failed validation OR could not be retrieved — consult collection_errors to tell which.

` + "```json\n{{.FactsJSON}}\n```" + `

Assess whether this change is safe to proceed. Respond with ONLY a JSON object in this exact shape:

{
  "overall_status": "PASSED" | "FAILED" | "WARNING",
  "risks": ["..."],
  "required_actions": ["..."],
  "synthesis": "one short paragraph for the change's work notes",
  "documentation_ready": true | false
}

Rules: a change whose hard requirements (checks prefixed has_ or is_) are not all satisfied must not be PASSED. Facts that could not be retrieved count against the change, never in its favor.`
