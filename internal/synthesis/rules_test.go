package synthesis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mobizinc/changegate/internal/types"
)

func bundleWithChecks(checks map[string]bool) *types.FactBundle {
	return &types.FactBundle{
		ComponentType: types.ComponentCatalogItem,
		ComponentID:   "cat-1",
		Checks:        checks,
	}
}

func TestRulesAllChecksPass(t *testing.T) {
	v := SynthesizeWithRules(bundleWithChecks(map[string]bool{
		"has_name": true, "has_category": true, "has_workflow": true, "is_active": true,
	}))

	assert.Equal(t, types.VerdictPassed, v.OverallStatus)
	assert.Empty(t, v.RemediationSteps)
	assert.Contains(t, v.Synthesis, "4 of 4 checks passed")
}

func TestRulesHardRequirementFails(t *testing.T) {
	v := SynthesizeWithRules(bundleWithChecks(map[string]bool{
		"has_name": true, "has_category": true, "has_workflow": false, "is_active": true,
	}))

	assert.Equal(t, types.VerdictFailed, v.OverallStatus)
	require.Len(t, v.RemediationSteps, 1)
	assert.Contains(t, v.RemediationSteps[0], "has_workflow")
	assert.Contains(t, v.Synthesis, "✗ has_workflow")
	assert.Contains(t, v.Synthesis, "✓ has_name")
}

func TestRulesSoftCheckFailsIsWarning(t *testing.T) {
	v := SynthesizeWithRules(bundleWithChecks(map[string]bool{
		"is_up": true, "has_capabilities": true, "recently_checked_in": false,
	}))

	assert.Equal(t, types.VerdictWarning, v.OverallStatus)
	require.Len(t, v.RemediationSteps, 1)
	assert.Contains(t, v.RemediationSteps[0], "recently_checked_in")
}

func TestRulesUnknownComponentType(t *testing.T) {
	v := SynthesizeWithRules(&types.FactBundle{
		ComponentType: "mystery",
		Checks:        map[string]bool{},
	})

	assert.Equal(t, types.VerdictWarning, v.OverallStatus)
	assert.Empty(t, v.Checks)
	assert.Contains(t, v.Synthesis, "not recognized")
}

func TestRulesStaleEnvironmentNote(t *testing.T) {
	cloned := time.Now().UTC().Add(-45 * 24 * time.Hour)
	b := bundleWithChecks(map[string]bool{"has_name": true})
	b.EnvironmentHealth = &types.EnvironmentHealth{
		TargetInstance: "acmeuat",
		LastCloneDate:  &cloned,
		DaysSinceClone: 45,
		Stale:          true,
		StaleAfterDays: 30,
	}

	v := SynthesizeWithRules(b)

	assert.Equal(t, types.VerdictPassed, v.OverallStatus)
	assert.Contains(t, v.Synthesis, "45 days ago")
	assert.Contains(t, v.Synthesis, "acmeuat")
}

func TestRulesCollectionErrorsSurfaced(t *testing.T) {
	b := bundleWithChecks(map[string]bool{"has_name": false, "is_active": false})
	b.CollectionErrors = []string{"catalog_item record unavailable: context deadline exceeded"}

	v := SynthesizeWithRules(b)

	assert.Equal(t, types.VerdictFailed, v.OverallStatus)
	assert.Contains(t, v.Synthesis, "Collection issues")
	assert.Contains(t, v.Synthesis, "deadline exceeded")
}

func TestRulesDeterministic(t *testing.T) {
	b := bundleWithChecks(map[string]bool{
		"has_name": true, "has_category": false, "has_workflow": false, "is_active": true,
	})

	first := SynthesizeWithRules(b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, SynthesizeWithRules(b))
	}
}

func TestRulesVerdictDoesNotAliasBundleChecks(t *testing.T) {
	checks := map[string]bool{"has_name": true}
	v := SynthesizeWithRules(bundleWithChecks(checks))

	v.Checks["has_name"] = false
	assert.True(t, checks["has_name"])
}
