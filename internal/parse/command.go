package parse

import (
	"fmt"
	"strings"
)

// Command verbs understood by the bin firmware.
const (
	VerbActivate   = "ACTIVATE"
	VerbDeactivate = "DEACTIVATE"
)

// Command is a decoded mailbox instruction.
type Command struct {
	Verb   string
	UserID string
}

// ActivateCommand builds the instruction that unlocks the bin for userID.
func ActivateCommand(userID string) string {
	return VerbActivate + ":" + userID
}

// DeactivateCommand builds the instruction that locks the bin.
func DeactivateCommand() string {
	return VerbDeactivate
}

// String formats the command the way the device expects it.
func (c Command) String() string {
	if c.UserID == "" {
		return c.Verb
	}
	return c.Verb + ":" + c.UserID
}

// ParseCommand decodes a mailbox string such as "ACTIVATE:U1" or "DEACTIVATE".
func ParseCommand(raw string) (Command, error) {
	s := strings.TrimSpace(raw)
	verb, user, hasUser := strings.Cut(s, ":")
	switch verb {
	case VerbActivate:
		if !hasUser || strings.TrimSpace(user) == "" {
			return Command{}, fmt.Errorf("activate command without user: %q", raw)
		}
		return Command{Verb: verb, UserID: strings.TrimSpace(user)}, nil
	case VerbDeactivate:
		if hasUser {
			return Command{}, fmt.Errorf("deactivate command takes no argument: %q", raw)
		}
		return Command{Verb: verb}, nil
	default:
		return Command{}, fmt.Errorf("unknown command: %q", raw)
	}
}
