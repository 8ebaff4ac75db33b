package shell

import (
	"strings"
	"unicode"
)

// CommandKind identifies what a line of input asks the shell to do.
type CommandKind int

const (
	// CommandRaw executes a hex batch immediately, without waiting for
	// a card first.
	CommandRaw CommandKind = iota

	// CommandRun waits for a card and then executes the batch once.
	CommandRun

	// CommandLoop repeatedly waits for a card and executes the batch,
	// until interrupted.
	CommandLoop

	// CommandHelp prints usage guidance.
	CommandHelp

	// CommandExit terminates the shell.
	CommandExit

	// CommandInvalid carries a parse failure to report.
	CommandInvalid
)

// Command is one classified line of input.
type Command struct {
	Kind  CommandKind
	Batch CommandBatch
	Err   error // parse failure detail, set for CommandInvalid
}

// Classify interprets one line of input. The first token of the trimmed
// line selects the command, case-insensitively; anything unrecognized is
// treated as a raw hex batch. An empty line classifies as a raw command
// with an empty batch, which executes as a no-op.
func Classify(line string) Command {
	trimmed := strings.TrimSpace(line)

	first := trimmed
	rest := ""
	if i := strings.IndexFunc(trimmed, unicode.IsSpace); i >= 0 {
		first = trimmed[:i]
		rest = strings.TrimSpace(trimmed[i:])
	}

	switch strings.ToLower(first) {
	case "exit":
		return Command{Kind: CommandExit}
	case "help":
		return Command{Kind: CommandHelp}
	case "run":
		return classifyBatch(CommandRun, rest)
	case "loop":
		return classifyBatch(CommandLoop, rest)
	}
	return classifyBatch(CommandRaw, trimmed)
}

func classifyBatch(kind CommandKind, input string) Command {
	batch, err := ParseBatch(input)
	if err != nil {
		return Command{Kind: CommandInvalid, Err: err}
	}
	return Command{Kind: kind, Batch: batch}
}
