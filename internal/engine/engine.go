// Package engine holds the pure state machines of the coordination core.
//
// Nothing here touches clocks, storage or goroutines: callers feed the current
// state and a command, and get back the next state or a rejection.
package engine

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
)

var ErrIllegalTransition = errors.New("illegal transition")

type MatchStatus string

const (
	MatchWaiting   MatchStatus = "waiting"
	MatchActive    MatchStatus = "active"
	MatchFinished  MatchStatus = "finished"
	MatchCancelled MatchStatus = "cancelled"
)

func (s MatchStatus) Terminal() bool {
	return s == MatchFinished || s == MatchCancelled
}

type WarStatus string

const (
	WarPreparing WarStatus = "preparing"
	WarActive    WarStatus = "active"
	WarFinished  WarStatus = "finished"
)

func (s WarStatus) Terminal() bool { return s == WarFinished }

type CommandType string

const (
	CmdStart  CommandType = "start"
	CmdFinish CommandType = "finish"
	CmdCancel CommandType = "cancel"
)

type matchEdge struct {
	from MatchStatus
	cmd  CommandType
}

// matchTransitions is the complete set of legal Match moves.
var matchTransitions = map[matchEdge]MatchStatus{
	{MatchWaiting, CmdStart}:  MatchActive,
	{MatchActive, CmdFinish}:  MatchFinished,
	{MatchWaiting, CmdCancel}: MatchCancelled,
}

type warEdge struct {
	from WarStatus
	cmd  CommandType
}

var warTransitions = map[warEdge]WarStatus{
	{WarPreparing, CmdStart}: WarActive,
	{WarActive, CmdFinish}:   WarFinished,
}

// ApplyMatch returns the status reached by applying cmd, or an InvalidState error.
func ApplyMatch(s MatchStatus, cmd CommandType) (MatchStatus, error) {
	next, ok := matchTransitions[matchEdge{s, cmd}]
	if !ok {
		return s, &apperr.Error{
			Kind:    apperr.KindInvalidState,
			Op:      "match." + string(cmd),
			Message: fmt.Sprintf("match is %s", s),
			Err:     ErrIllegalTransition,
		}
	}
	return next, nil
}

// ApplyWar returns the status reached by applying cmd, or an InvalidState error.
func ApplyWar(s WarStatus, cmd CommandType) (WarStatus, error) {
	next, ok := warTransitions[warEdge{s, cmd}]
	if !ok {
		return s, &apperr.Error{
			Kind:    apperr.KindInvalidState,
			Op:      "war." + string(cmd),
			Message: fmt.Sprintf("war is %s", s),
			Err:     ErrIllegalTransition,
		}
	}
	return next, nil
}
