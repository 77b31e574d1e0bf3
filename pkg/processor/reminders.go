package processor

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/google/uuid"
)

// pendingReminders remembers which conversation scheduled each job, so
// cancellations only touch jobs of their own conversation.
type pendingReminders struct {
	mu   sync.Mutex
	jobs map[string]pendingReminder
}

type pendingReminder struct {
	senderID string
	event    *domain.ReminderScheduled
}

func (r *pendingReminders) put(id string, senderID string, e *domain.ReminderScheduled) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs == nil {
		r.jobs = make(map[string]pendingReminder)
	}
	r.jobs[id] = pendingReminder{senderID: senderID, event: e}
}

func (r *pendingReminders) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// matching returns the job ids of senderID covered by c.
func (r *pendingReminders) matching(senderID string, c *domain.ReminderCancelled) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, job := range r.jobs {
		if job.senderID == senderID && c.Matches(job.event) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ReminderJobID is the scheduler job id of a reminder. Reminders of one
// conversation with the same name replace each other.
func ReminderJobID(senderID, name string) string {
	return "reminder:" + senderID + ":" + name
}

// nameReminders gives unnamed reminders a unique name before they are logged.
func nameReminders(events []domain.Event) {
	for _, e := range events {
		if r, ok := e.(*domain.ReminderScheduled); ok && r.Name == "" {
			r.Name = uuid.NewString()
		}
	}
}

func (p *Processor) scheduleReminders(t *domain.Tracker, out ports.OutputChannel, events []domain.Event) {
	for _, e := range events {
		r, ok := e.(*domain.ReminderScheduled)
		if !ok {
			continue
		}
		if p.scheduler == nil {
			p.logger.Warn("no scheduler configured, reminder dropped", "sender_id", t.SenderID(), "reminder", r.Name)
			continue
		}
		senderID := t.SenderID()
		id := ReminderJobID(senderID, r.Name)
		job := ports.Job{
			ID:    id,
			RunAt: r.TriggerAt,
			Run: func(ctx context.Context) {
				p.reminders.remove(id)
				if err := p.HandleReminder(ctx, senderID, r, out); err != nil {
					p.logger.Error("reminder failed", "sender_id", senderID, "reminder", r.Name, "err", err)
				}
			},
		}
		if err := p.scheduler.AddJob(job); err != nil {
			p.logger.Error("failed to schedule reminder", "sender_id", senderID, "reminder", r.Name, "err", err)
			continue
		}
		p.reminders.put(id, senderID, r)
		p.logger.Debug("reminder scheduled", "sender_id", senderID, "reminder", r.Name, "at", r.TriggerAt)
	}
}

func (p *Processor) cancelReminders(t *domain.Tracker, events []domain.Event) {
	if p.scheduler == nil {
		return
	}
	for _, e := range events {
		c, ok := e.(*domain.ReminderCancelled)
		if !ok {
			continue
		}
		for _, id := range p.reminders.matching(t.SenderID(), c) {
			p.scheduler.RemoveJob(id)
			p.reminders.remove(id)
			p.logger.Debug("reminder cancelled", "sender_id", t.SenderID(), "job", id)
		}
	}
}

// HandleReminder fires a due reminder: its intent is triggered unless the
// conversation restarted since, or the user wrote after it was scheduled
// and the reminder asked to be killed by that.
func (p *Processor) HandleReminder(ctx context.Context, senderID string, r *domain.ReminderScheduled, out ports.OutputChannel) error {
	_, err := p.withTracker(ctx, senderID, func(ctx context.Context, t *domain.Tracker) error {
		if err := p.updateSession(ctx, t, out, nil); err != nil {
			return err
		}
		if (r.KillOnUserMessage && messageAfterReminder(t, r)) || !reminderStillValid(t, r) {
			p.logger.Debug("cancelled outdated reminder", "sender_id", senderID, "reminder", r.Name)
			return nil
		}
		return p.triggerExternal(ctx, t, r.Intent, r.Entities, out)
	})
	return err
}

func isReminder(e domain.Event, name string) bool {
	r, ok := e.(*domain.ReminderScheduled)
	return ok && r.Name == name
}

// reminderStillValid is false once a restart dropped the reminder from the
// applied events.
func reminderStillValid(t *domain.Tracker, r *domain.ReminderScheduled) bool {
	for _, e := range t.AppliedEvents() {
		if isReminder(e, r.Name) {
			return true
		}
	}
	return false
}

func messageAfterReminder(t *domain.Tracker, r *domain.ReminderScheduled) bool {
	events := t.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if isReminder(events[i], r.Name) {
			return false
		}
		if u, ok := events[i].(*domain.UserUttered); ok && u.Text != "" {
			return true
		}
	}
	// the reminder is gone, the tracker was probably restarted
	return true
}
