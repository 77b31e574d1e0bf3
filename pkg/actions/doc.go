// Package actions resolves the actions of a domain into a fixed registry.
//
// Every action name is bound once, when the registry is built, to one of four
// variants: the built-in default actions, utterance actions rendered through a
// ports.Generator, loop (form) actions, and custom actions implemented either
// in-process via Register or by a remote action server. The registry
// implements ports.ActionRunner for the processor.
package actions
