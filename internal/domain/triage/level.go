package triage

import (
	"fmt"
	"strings"
)

// Level is the categorical acuity label driving treatment priority.
type Level string

const (
	LevelRed    Level = "RED"
	LevelOrange Level = "ORANGE"
	LevelYellow Level = "YELLOW"
	LevelGreen  Level = "GREEN"
	LevelBlue   Level = "BLUE"
)

// UnrankedPriority is the rank given to empty or unrecognized levels.
const UnrankedPriority = 99

// priorityRanks keeps ORANGE so rows written by the score-threshold policy
// still sort between RED and YELLOW.
var priorityRanks = map[Level]int{
	LevelRed:    1,
	LevelOrange: 2,
	LevelYellow: 3,
	LevelGreen:  4,
	LevelBlue:   5,
}

// PriorityRank returns the display rank of a level, lowest first.
func PriorityRank(l Level) int {
	if r, ok := priorityRanks[Level(strings.ToUpper(string(l)))]; ok {
		return r
	}
	return UnrankedPriority
}

// Known reports whether l is one of the five levels.
func (l Level) Known() bool {
	_, ok := priorityRanks[l]
	return ok
}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Known() {
		return "", fmt.Errorf("invalid triage level: %q (valid: RED, ORANGE, YELLOW, GREEN, BLUE)", s)
	}
	return l, nil
}
