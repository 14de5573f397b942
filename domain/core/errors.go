package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
//
// Three independent families cross the whole harness and must stay
// distinguishable end to end: agent invocation failures, judge parsing
// failures, and statistical input errors. A batch continues past individual
// turn/session failures; none of these may surface as an uncaught crash.
var (
	// Agent collaborator failures (connectivity, timeout, malformed transport output)
	ErrAgentInvocation = errors.New("agent invocation failed")
	ErrAgentTimeout    = fmt.Errorf("%w: call timed out", ErrAgentInvocation)

	// Judge answered, but its text could not be parsed into a rating set
	ErrUnparseableJudgeOutput = errors.New("unparseable judge output")

	// Statistical input errors (malformed or incomplete score tables)
	ErrScoreTable  = errors.New("invalid score table")
	ErrMissingCell = fmt.Errorf("%w: missing cell", ErrScoreTable)
	ErrEmptyCell   = fmt.Errorf("%w: empty cell", ErrScoreTable)

	// Session lifecycle errors
	ErrSessionFailed = errors.New("session failed with zero completed turns")
	ErrSessionSealed = errors.New("session is sealed")
)

// Error constructors with context
func NewAgentError(role string, op string, err error) error {
	return fmt.Errorf("%w: %s.%s: %v", ErrAgentInvocation, role, op, err)
}

func NewAgentTimeoutError(role string, op string, err error) error {
	return fmt.Errorf("%w (%s.%s): %v", ErrAgentTimeout, role, op, err)
}

func NewScoreTableError(reason string) error {
	return fmt.Errorf("%w: %s", ErrScoreTable, reason)
}

func NewMissingCellError(cellKey string) error {
	return fmt.Errorf("%w: %s", ErrMissingCell, cellKey)
}

func NewEmptyCellError(cellKey string) error {
	return fmt.Errorf("%w: %s", ErrEmptyCell, cellKey)
}

// Error checking helpers
func IsAgentError(err error) bool {
	return errors.Is(err, ErrAgentInvocation)
}

func IsJudgeParseError(err error) bool {
	return errors.Is(err, ErrUnparseableJudgeOutput)
}

func IsScoreTableError(err error) bool {
	return errors.Is(err, ErrScoreTable)
}
