package tendril

// Version is reported by the CLI, the REST API and the action server client.
// Release builds set it with -ldflags "-X github.com/aretw0/tendril.Version=...".
var Version = "dev"
