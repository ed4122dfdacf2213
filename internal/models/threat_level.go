package models

// ThreatLevel classifies how hostile a request looks. Levels form a total
// order; comparisons must go through Rank, never string comparison.
type ThreatLevel string

const (
	ThreatSafe     ThreatLevel = "safe"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

var threatRanks = map[ThreatLevel]int{
	ThreatSafe:     0,
	ThreatLow:      1,
	ThreatMedium:   2,
	ThreatHigh:     3,
	ThreatCritical: 4,
}

// Rank returns the ordinal of the level. Unknown levels rank as safe.
func (t ThreatLevel) Rank() int {
	return threatRanks[t]
}

// Valid reports whether t is one of the known levels.
func (t ThreatLevel) Valid() bool {
	_, ok := threatRanks[t]
	return ok
}

// MaxThreatLevel returns the more severe of a and b.
func MaxThreatLevel(a, b ThreatLevel) ThreatLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RuleAction is what a detection rule does when it fires. When multiple
// rules fire the strongest action wins: block > challenge > alert > log.
type RuleAction string

const (
	ActionLog       RuleAction = "log"
	ActionAlert     RuleAction = "alert"
	ActionChallenge RuleAction = "challenge"
	ActionBlock     RuleAction = "block"
)

var actionRanks = map[RuleAction]int{
	ActionLog:       0,
	ActionAlert:     1,
	ActionChallenge: 2,
	ActionBlock:     3,
}

// Rank returns the priority of the action. Unknown actions rank as log.
func (a RuleAction) Rank() int {
	return actionRanks[a]
}

// Valid reports whether a is one of the known actions.
func (a RuleAction) Valid() bool {
	_, ok := actionRanks[a]
	return ok
}

// StrongerAction returns the higher-priority of a and b.
func StrongerAction(a, b RuleAction) RuleAction {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
