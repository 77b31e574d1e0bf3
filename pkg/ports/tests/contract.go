package tests

import (
	"context"
	"testing"

	"github.com/aretw0/tendril/pkg/ports"
)

// ProjectLoaderContractTest is a reusable test suite that verifies if an adapter
// complies with ports.ProjectLoader. wantIntents must be declared by the domain
// and wantDocs lists the IDs of the training documents.
func ProjectLoaderContractTest(t *testing.T, loader ports.ProjectLoader, wantIntents []string, wantDocs []string) {
	t.Helper()
	ctx := context.Background()

	t.Run("LoadDomain", func(t *testing.T) {
		cfg, err := loader.LoadDomain(ctx)
		if err != nil {
			t.Fatalf("unexpected error loading domain: %v", err)
		}
		declared := make(map[string]bool)
		for _, in := range cfg.Intents {
			declared[in.Name] = true
		}
		for _, in := range wantIntents {
			if !declared[in] {
				t.Errorf("intent %s missing from domain", in)
			}
		}
	})

	t.Run("LoadTrainingData", func(t *testing.T) {
		docs, err := loader.LoadTrainingData(ctx)
		if err != nil {
			t.Fatalf("unexpected error loading training data: %v", err)
		}
		if len(docs) != len(wantDocs) {
			t.Fatalf("expected %d documents, got %d", len(wantDocs), len(docs))
		}
		for i, id := range wantDocs {
			if docs[i].ID != id {
				t.Errorf("document %d: got %s, want %s", i, docs[i].ID, id)
			}
			if docs[i].Data == nil {
				t.Errorf("document %s has no data", id)
			}
		}
	})
}
