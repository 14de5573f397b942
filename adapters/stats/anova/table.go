package anova

import (
	"github.com/montanaflynn/stats"

	"tutorlab/domain/dialogue"
)

// AssembleFromSessions builds the factorial score table from sealed
// sessions: each session with at least one scored turn contributes its mean
// composite for the named group to its cell's replicate list. Sessions with
// no scored turns contribute nothing; if that empties a cell, Compute
// rejects the table rather than zero-filling it.
func AssembleFromSessions(sessions []*dialogue.Session, group string) ScoreTable {
	table := make(ScoreTable)
	for _, session := range sessions {
		if session == nil {
			continue
		}
		values := session.ScoredValues(group)
		if len(values) == 0 {
			continue
		}
		mean, err := stats.Mean(values)
		if err != nil {
			continue
		}
		table[session.CellKey] = append(table[session.CellKey], mean)
	}
	return table
}
