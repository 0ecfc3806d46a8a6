package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	plan, err := parsePlan(planResponse)

	require.NoError(t, err)
	assert.Contains(t, plan.Summary, "validation rule")
	require.Len(t, plan.Glossary, 1)
	assert.Equal(t, "UTSMRA", plan.Glossary[0].Term)
	require.Len(t, plan.KBSnippets, 1)
	assert.Equal(t, "https://le.utah.gov/sb152", plan.KBSnippets[0].URL)
	require.Len(t, plan.FewShots, 1)
	require.Len(t, plan.Rules, 1)
	assert.Equal(t, "validation", plan.Rules[0].Agent)
	assert.Len(t, plan.Tags, 3)
}

func TestParsePlan_FencedBody(t *testing.T) {
	plan, err := parsePlan("```json\n" + planResponse + "\n```")

	require.NoError(t, err)
	assert.Len(t, plan.Glossary, 1)
}

func TestParsePlan_EmptyPlanIsValid(t *testing.T) {
	plan, err := parsePlan(`{"agent": "LearningAgent", "summary": "feedback confirms the decision; nothing actionable"}`)

	require.NoError(t, err)
	assert.Empty(t, plan.Glossary)
	assert.Empty(t, plan.Rules)
	assert.Contains(t, plan.Summary, "nothing actionable")
}

func TestParsePlan_UndecodableBody(t *testing.T) {
	_, err := parsePlan("no structured plan here")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding learning plan")
}
