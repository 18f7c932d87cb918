package syncclient

import (
	"errors"
	"strings"
	"unicode/utf8"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrClosed       = errors.New("syncclient: session closed")
	ErrSyncDegraded = errors.New("syncclient: sync degraded")
	ErrNoActiveFile = errors.New("syncclient: no active file")
	ErrNoStore      = errors.New("syncclient: no repository store configured")
	ErrNoContent    = errors.New("syncclient: no content to execute")
)

// Position is a zero-based cursor location; Column counts runes.
type Position struct {
	Line   int
	Column int
}

// clamp moves p onto the nearest valid location in content.
func (p Position) clamp(content string) Position {
	lines := strings.Split(content, "\n")
	line := min(max(p.Line, 0), len(lines)-1)
	col := min(max(p.Column, 0), utf8.RuneCountInString(lines[line]))
	return Position{Line: line, Column: col}
}
