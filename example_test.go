package tendril_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/pkg/adapters/memory"
)

// ExampleNew_memory builds an agent from in-memory project files.
// This is useful for testing, embedded scenarios, or when you don't want to rely on the file system.
func ExampleNew_memory() {
	loader := memory.NewLoader(`
intents:
  - greet
responses:
  utter_greet:
    - text: "Hello there!"
`, map[string]string{
		"rules": `
rules:
  - rule: greet back
    steps:
      - intent: greet
      - action: utter_greet
`,
	})

	// Note: We leave path empty ("") because we are providing a loader.
	ctx := context.Background()
	agent, err := tendril.New(ctx, "", tendril.WithLoader(loader))
	if err != nil {
		log.Fatal(err)
	}
	defer agent.Close()

	replies, err := agent.HandleText(ctx, "cmdline", "example", "/greet")
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range replies {
		fmt.Println(r.Text)
	}

	tracker, err := agent.Tracker(ctx, "example")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Latest action:", tracker.LatestActionName())
	// Output:
	// Hello there!
	// Latest action: action_listen
}
