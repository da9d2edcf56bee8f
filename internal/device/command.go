package device

import (
	"fmt"
	"strings"
)

// Command is an instruction relayed to a device.
type Command string

// Supported commands.
const (
	CommandOn     Command = "on"
	CommandOff    Command = "off"
	CommandToggle Command = "toggle"
)

// AllCommands returns every supported command.
func AllCommands() []Command {
	return []Command{CommandOn, CommandOff, CommandToggle}
}

// ParseCommand normalises s and checks it is a supported command.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return c, nil
}

// Valid reports whether c is a supported command.
func (c Command) Valid() bool {
	switch c {
	case CommandOn, CommandOff, CommandToggle:
		return true
	}
	return false
}
