// Package training turns stories and rules into training trackers.
//
// A Reader parses YAML training files into story steps, a Graph orders the
// steps by their checkpoints and breaks cycles, and a Generator walks the
// ordered graph to produce the trackers the policies learn from.
package training
