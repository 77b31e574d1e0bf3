/*
Package ports defines the driven ports (interfaces) of the Tendril dialogue engine.

These interfaces decouple the decision-and-execution loop from its collaborators,
allowing the engine to work with various storage backends, NLU/NLG services,
action servers and schedulers.

# Key Interfaces

  - TrackerStore: persists the event log of each conversation.
  - ActionRunner: executes an action against a tracker and returns new events.
  - Interpreter: turns user text into intent and entities.
  - Generator: renders a response template into a bot message.
  - OutputChannel: delivers bot messages to the user.
  - Scheduler: runs reminder jobs at a point in time.
  - EventPublisher: forwards new events to a message broker.
  - ProjectLoader: provides the domain and training documents of a bot.
  - DistributedLocker: coordinates access to a conversation across replicas.
*/
package ports
