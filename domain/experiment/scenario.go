package experiment

import "tutorlab/domain/core"

// Scenario is one curriculum situation a session runs against. Loaded by the
// caller from content files; only the identity, topic and optional opening
// message matter here.
type Scenario struct {
	ID    core.ScenarioID `json:"id"`
	Topic string          `json:"topic"`

	// Opening is an externally authored learner opening message for
	// multi-turn scenarios. When empty the learner agent generates one.
	Opening string `json:"opening,omitempty"`
}
