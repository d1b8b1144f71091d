package models

// Phase is a step of an in-flight multi-model answer
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseProcessing Phase = "processing"
	PhaseConsensus  Phase = "consensus"
	PhaseFinalizing Phase = "finalizing"
)

var phaseOrder = map[Phase]int{
	PhaseIdle:       0,
	PhaseAnalyzing:  1,
	PhaseProcessing: 2,
	PhaseConsensus:  3,
	PhaseFinalizing: 4,
}

// ParsePhase returns the phase for a wire value
func ParsePhase(value string) (Phase, bool) {
	p := Phase(value)
	_, ok := phaseOrder[p]
	return p, ok
}

// Rank orders phases; idle ranks lowest
func (p Phase) Rank() int {
	return phaseOrder[p]
}

// ConsensusStatus is the progress of the submission identified by Epoch
type ConsensusStatus struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
	Epoch   uint64 `json:"epoch"`
}

// Active reports whether a consensus answer is in flight
func (s ConsensusStatus) Active() bool {
	return s.Phase != PhaseIdle && s.Phase != ""
}

// ChannelState is the observed connectivity of the push channel
type ChannelState struct {
	Connected bool   `json:"connected"`
	Transport string `json:"transport"`
}
