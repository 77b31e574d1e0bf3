package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Mask replaces sensitive values in persisted conversations.
const Mask = "***"

type piiMiddleware struct {
	next     ports.TrackerStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks slot values and entity
// values whose names match any of the patterns before they reach the store.
// The live tracker keeps the real values; only the persisted copy is masked,
// so a conversation reloaded from the store sees Mask instead.
func NewPIIMiddleware(patternStrings []string) Middleware {
	mw, err := NewPII(patternStrings)
	if err != nil {
		panic(err)
	}
	return mw
}

// NewPII is NewPIIMiddleware with pattern errors reported instead of panicking.
func NewPII(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pii pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.TrackerStore) ports.TrackerStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, dlg *domain.Dialogue) error {
	// events are shared with the in-memory tracker, so masked ones are copies
	masked := make(domain.Events, len(dlg.Events))
	for i, e := range dlg.Events {
		masked[i] = m.mask(e)
	}
	return m.next.Save(ctx, &domain.Dialogue{SenderID: dlg.SenderID, Events: masked})
}

func (m *piiMiddleware) Load(ctx context.Context, senderID string) (*domain.Dialogue, error) {
	return m.next.Load(ctx, senderID)
}

func (m *piiMiddleware) Delete(ctx context.Context, senderID string) error {
	return m.next.Delete(ctx, senderID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) mask(e domain.Event) domain.Event {
	switch ev := e.(type) {
	case *domain.SlotSet:
		if !m.matches(ev.Key) || ev.Value == nil {
			return e
		}
		cloned := *ev
		cloned.Value = Mask
		return &cloned
	case *domain.UserUttered:
		var entities []domain.Entity
		for i, ent := range ev.Entities {
			if !m.matches(ent.Entity) {
				continue
			}
			if entities == nil {
				entities = append([]domain.Entity(nil), ev.Entities...)
			}
			entities[i].Value = Mask
		}
		if entities == nil {
			return e
		}
		cloned := *ev
		cloned.Entities = entities
		return &cloned
	}
	return e
}

func (m *piiMiddleware) matches(name string) bool {
	for _, p := range m.patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}
