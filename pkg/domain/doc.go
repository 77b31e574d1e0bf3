/*
Package domain contains the core models of the Tendril dialogue engine.

It defines the vocabulary an agent understands (the Domain), the append-only
conversation log (Events) and its replayed projection (the Tracker), and the
canonical per-turn snapshot used for rule matching (TurnState). Apart from
LoadFile, this package is kept pure and free of I/O, following Hexagonal
Architecture principles.

# Key Entities

  - Domain: intents, entities, slots, responses, forms and the ordered action list.
  - Event: an immutable, timestamped fact about a conversation.
  - Tracker: the event log of one conversation plus the projection folded from it.
  - TurnState: the user / slots / prev_action / active_loop snapshot of one turn.
  - Dialogue: the persisted shape of a conversation (sender id + events).
*/
package domain
