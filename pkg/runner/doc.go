/*
Package runner implements the interactive loop that lets a person talk to an
agent from a terminal or a pipe.

It is the bridge between the dialogue engine and a line-oriented stream: it reads
user input through a pluggable handler, feeds it to the agent as a user message
and delivers the bot replies back through the same handler, which doubles as
the conversation's output channel.

# Key Components

  - Runner: the read-handle-reply loop, stopped by EOF, "exit" or an interrupt.
  - IOHandler: decouples how input is read and replies are shown.
  - TextHandler: human-friendly output with numbered buttons.
  - JSONHandler: one JSON object per line, for scripts and tests.

# Usage

	r := runner.NewRunner(agent,
		runner.WithSenderID("user-1"),
		runner.WithInputHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
	)

	if err := r.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package runner
