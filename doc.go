/*
Package tendril is a dialogue-management engine for task-oriented conversational agents.

Given the full event history of a conversation, it decides turn by turn which action
the agent takes next, runs it and appends the resulting events, until the agent
listens to the user again or the circuit breaker trips.

# Concept

A conversation is an append-only log of events (user messages, executed actions,
slot changes). Its state is never stored: it is replayed from the log. Policies
predict the next action from that state; rules written in the project have the
final say over memorized stories.

  - Deterministic Decisions: the same log always yields the same prediction.
  - Hexagonal Architecture: NLU, NLG, stores and action servers are ports.
  - Bounded Execution: one message never runs more than a configured number of actions.

# Usage

A project is a directory with a domain.yml and training data (stories and rules)
under data/. By default it is read through a read-only Loam repository.

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/tendril"
	)

	func main() {
		ctx := context.Background()
		agent, err := tendril.New(ctx, "./my-bot")
		if err != nil {
			log.Fatal(err)
		}
		if err := agent.Start(ctx); err != nil {
			log.Fatal(err)
		}
		defer agent.Close()

		replies, err := agent.HandleText(ctx, "cmdline", "user-1", "/greet")
		if err != nil {
			log.Fatal(err)
		}
		for _, r := range replies {
			fmt.Println(r.Text)
		}
	}

Messages of the form /intent{"entity": "value"} are understood without an NLU
service. Plug one in with WithInterpreter.
*/
package tendril
