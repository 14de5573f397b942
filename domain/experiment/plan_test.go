package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() *Resolver {
	return NewResolver(ResolverConfig{
		TutorModel:         "tutor-model",
		CritiqueModel:      "critique-model",
		LearnerModel:       "learner-model",
		DialogueTurns:      3,
		DeliberationRounds: 2,
	})
}

func TestResolver_CritiqueAgentTracksTutorMulti(t *testing.T) {
	r := testResolver()

	for _, cond := range AllConditions() {
		plan := r.ResolvePlan(cond)
		if cond.TutorMulti {
			require.NotNil(t, plan.CritiqueAgent, "cell %s", cond.Key())
			assert.Equal(t, "critique-model", plan.CritiqueAgent.Model)
		} else {
			assert.Nil(t, plan.CritiqueAgent, "cell %s", cond.Key())
		}
	}
}

func TestResolver_FactorsDriveVariantAndArch(t *testing.T) {
	r := testResolver()

	plan := r.ResolvePlan(Condition{Recognition: true, LearnerMulti: true})
	assert.Equal(t, PromptVariantRecognition, plan.PromptVariant)
	assert.Equal(t, LearnerArchMulti, plan.LearnerArch)
	assert.Nil(t, plan.CritiqueAgent)

	base := r.ResolvePlan(Condition{})
	assert.Equal(t, PromptVariantBase, base.PromptVariant)
	assert.Equal(t, LearnerArchSingle, base.LearnerArch)
	assert.Equal(t, 3, base.DialogueTurns)
	assert.Equal(t, 2, base.DeliberationRounds)
}

func TestResolver_ResolveNamedRoundTrips(t *testing.T) {
	r := testResolver()

	for _, cond := range r.KnownConditions() {
		plan := r.ResolveNamed(cond.Name)
		assert.Equal(t, cond.Key(), plan.Condition.Key(), "name %s", cond.Name)
		assert.Equal(t, cond.Name, plan.Condition.Name)
	}

	// case and whitespace tolerant
	plan := r.ResolveNamed("  Recognition_MultiTutor_SingleLearner ")
	assert.True(t, plan.Condition.Recognition)
	assert.True(t, plan.Condition.TutorMulti)
	assert.False(t, plan.Condition.LearnerMulti)
}

func TestResolver_UnknownNameDegradesToSafeDefault(t *testing.T) {
	r := testResolver()

	plan := r.ResolveNamed("no_such_condition")
	assert.Equal(t, "no_such_condition", plan.Condition.Name)
	assert.Nil(t, plan.CritiqueAgent)
	assert.Zero(t, plan.DialogueTurns)
	assert.Zero(t, plan.DeliberationRounds)
	assert.Equal(t, PromptVariantBase, plan.PromptVariant)
	assert.Equal(t, LearnerArchSingle, plan.LearnerArch)
}

func TestResolver_DeterministicPlans(t *testing.T) {
	r := testResolver()
	cond := Condition{Recognition: true, TutorMulti: true, LearnerMulti: true}
	assert.Equal(t, r.ResolvePlan(cond), r.ResolvePlan(cond))
}

func TestCellKey_RoundTrip(t *testing.T) {
	keys := AllCellKeys()
	require.Len(t, keys, 8)

	seen := make(map[CellKey]bool)
	for _, key := range keys {
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true

		cond, err := ParseCellKey(key)
		require.NoError(t, err)
		assert.Equal(t, key, cond.Key())
	}
}

func TestCellKey_NameDoesNotAffectKey(t *testing.T) {
	a := Condition{Name: "alpha", Recognition: true}
	b := Condition{Name: "beta", Recognition: true}
	assert.Equal(t, a.Key(), b.Key())
}

func TestParseCellKey_Malformed(t *testing.T) {
	for _, key := range []CellKey{"", "recog=on", "recog=maybe|tutor=on|learner=off", "a=on|b=on|c=on"} {
		_, err := ParseCellKey(key)
		assert.Error(t, err, "key %q", key)
	}
}
