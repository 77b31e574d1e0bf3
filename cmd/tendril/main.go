// Command tendril runs, serves and inspects dialogue agents.
package main

func main() {
	Execute()
}
