/*
Package processor runs the decision-and-execution loop of a conversation.

For every incoming message the processor takes the conversation lock, starts
a session when needed, logs the user utterance, then alternates between
asking the policies for the next action and running it. Each action's events
are folded into the tracker right after the ActionExecuted that produced
them. The loop ends when the bot listens again, or when a circuit breaker
stops a conversation that predicts too many actions in a row.

Bot utterances go to the output channel, reminders to the scheduler. The
tracker is persisted once, at the end, and the new events published.
*/
package processor
