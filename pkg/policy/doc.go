// Package policy decides the next action of a conversation.
//
// A Policy scores every action of the domain for the next turn. The Ensemble
// asks each registered policy independently and keeps the most confident
// vote, breaking ties by priority. Three deterministic policies are provided:
//
//   - RulePolicy matches the live turn-state history against trained rules,
//     keeps active loops running and intercepts the default intents.
//   - MemoizationPolicy recalls the action that followed the same trailing
//     window of states in a training conversation.
//   - MappingPolicy maps intents with a "triggers" property straight to actions.
//
// Lookups are built by Train and are read-only afterwards, so a trained policy
// can be shared by any number of concurrent conversations.
package policy
