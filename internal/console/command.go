package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ddsched/internal/sched"
)

var ErrInvalid = errors.New("invalid command")

type Kind int

const (
	Create    Kind = iota // c <template> <deadline> [period]
	Delete                // d <task id>
	Active                // a
	Overdue               // o
	Periodics             // p
	Kill                  // k <generator>
	Status                // s
	Help                  // help, ?
	Exit                  // exit, quit, q
)

// Command is one parsed console line.
type Command struct {
	Kind      Kind
	Template  uint32
	Deadline  uint32 // ticks from now
	Period    uint32 // ticks; 0 creates once
	TaskID    sched.TaskID
	Generator int
}

// Usage is printed by the help command.
const Usage = `commands:
  c <template> <deadline> [period]  create a task; with period, re-create every period ticks
  d <task id>                       delete a task (hex 0x.. or decimal)
  a                                 list active tasks
  o                                 list overdue tasks
  p                                 list periodic generators
  k <generator>                     stop a periodic generator
  s                                 status update now
  help                              this text
  exit                              leave the console`

// Parse turns a console line into a Command. Anything malformed is
// ErrInvalid and never reaches the scheduler.
func Parse(line string) (Command, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Command{}, ErrInvalid
	}
	args := f[1:]

	switch strings.ToLower(f[0]) {
	case "c":
		if len(args) != 2 && len(args) != 3 {
			return Command{}, invalid("c takes <template> <deadline> [period]")
		}
		var nums [3]uint32
		for i, a := range args {
			n, err := strconv.ParseUint(a, 10, 32)
			if err != nil {
				return Command{}, invalid("%q is not a number", a)
			}
			nums[i] = uint32(n)
		}
		cmd := Command{Kind: Create, Template: nums[0], Deadline: nums[1], Period: nums[2]}
		if len(args) == 3 && cmd.Period == 0 {
			return Command{}, invalid("period must be at least one tick")
		}
		return cmd, nil

	case "d":
		if len(args) != 1 {
			return Command{}, invalid("d takes <task id>")
		}
		n, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil || n == 0 {
			return Command{}, invalid("%q is not a task id", args[0])
		}
		return Command{Kind: Delete, TaskID: sched.TaskID(n)}, nil

	case "k":
		if len(args) != 1 {
			return Command{}, invalid("k takes <generator>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return Command{}, invalid("%q is not a generator", args[0])
		}
		return Command{Kind: Kill, Generator: n}, nil

	case "a", "o", "p", "s", "help", "?", "exit", "quit", "q":
		if len(args) != 0 {
			return Command{}, invalid("%s takes no arguments", f[0])
		}
		return Command{Kind: simple[strings.ToLower(f[0])]}, nil
	}
	return Command{}, ErrInvalid
}

var simple = map[string]Kind{
	"a": Active, "o": Overdue, "p": Periodics, "s": Status,
	"help": Help, "?": Help, "exit": Exit, "quit": Exit, "q": Exit,
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, a...)...)
}
