package types

import "fmt"

// CommandKind tags a logged mutation.
type CommandKind uint8

const (
	CommandSet CommandKind = iota + 1
	CommandRemove
)

func (k CommandKind) String() string {
	switch k {
	case CommandSet:
		return "set"
	case CommandRemove:
		return "remove"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Command is the only unit ever written to the command log.
type Command struct {
	_msgpack struct{} `msgpack:",as_array"`

	Kind  CommandKind `msgpack:"kind"`
	Key   string      `msgpack:"key"`
	Value string      `msgpack:"value"`
}

// SetCommand builds a Set(key, value) command.
func SetCommand(key, value string) Command {
	return Command{Kind: CommandSet, Key: key, Value: value}
}

// RemoveCommand builds a Remove(key) command.
func RemoveCommand(key string) Command {
	return Command{Kind: CommandRemove, Key: key}
}

func (c Command) String() string {
	if c.Kind == CommandSet {
		return fmt.Sprintf("set(%q, %d bytes)", c.Key, len(c.Value))
	}
	return fmt.Sprintf("%s(%q)", c.Kind, c.Key)
}
