package scoring

import "github.com/rjmoor/AI-ForXBot/internal/model"

// Evaluation is the scored outcome of one tier.
type Evaluation struct {
	Tier   model.Tier  `json:"tier"`
	State  model.State `json:"state"`
	Score  float64     `json:"score"`
	Voters int         `json:"voters"`
}

// StateMachine classifies every tier of a run. Despite the name it keeps no
// state between calls; each Run is a pure function of its input.
type StateMachine struct {
	engine *Engine
}

// NewStateMachine wraps a scoring engine.
func NewStateMachine(engine *Engine) *StateMachine {
	return &StateMachine{engine: engine}
}

// Engine returns the underlying scoring engine.
func (m *StateMachine) Engine() *Engine { return m.engine }

// Run returns the state of every tier present in byTier.
func (m *StateMachine) Run(byTier map[model.Tier]model.TierResult) map[model.Tier]model.State {
	out := make(map[model.Tier]model.State, len(byTier))
	for tier, ev := range m.Evaluate(byTier) {
		out[tier] = ev.State
	}
	return out
}

// Evaluate is Run with scores and voter counts.
func (m *StateMachine) Evaluate(byTier map[model.Tier]model.TierResult) map[model.Tier]Evaluation {
	out := make(map[model.Tier]Evaluation, len(byTier))
	for tier, result := range byTier {
		score, voters := m.engine.Score(result, tier)
		out[tier] = Evaluation{
			Tier:   tier,
			State:  m.engine.Classify(score),
			Score:  score,
			Voters: voters,
		}
	}
	return out
}
