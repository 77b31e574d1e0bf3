/*
Package dsl provides a Go DSL for building Tendril projects in code.

It replaces domain.yml and the stories and rules files with a fluent builder,
which is handy for tests, generated assistants and IDE autocompletion.

Example usage:

	package main

	import (
		"context"

		"github.com/aretw0/tendril"
		"github.com/aretw0/tendril/pkg/dsl"
	)

	func main() {
		b := dsl.New().
			Intent("greet").
			Response("utter_greet", "Hello there!")

		b.Rule("greet back").
			Intent("greet").
			Action("utter_greet")

		loader, err := b.Build()
		if err != nil {
			panic(err)
		}
		agent, err := tendril.New(context.Background(), "", tendril.WithLoader(loader))
		// ...
	}
*/
package dsl
