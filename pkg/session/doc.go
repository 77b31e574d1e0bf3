/*
Package session serializes work on a conversation and orchestrates its persistence.

A Manager hands out one lock per conversation id, optionally backed by a
distributed locker so replicas never process the same conversation at once,
and loads and saves trackers through a ports.TrackerStore.
*/
package session
