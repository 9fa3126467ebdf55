package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rfalcfilho/disparazap/internal/template"
)

const invalidPhoneError = "invalid phone number"

// run is the immutable part of one dispatch pass.
type run struct {
	id    string
	epoch uint64
	rows  []map[string]string
	cfg   Config
	prev  chan struct{}
}

func (c *Controller) activeLocked(epoch uint64) bool {
	return c.processing && c.epoch == epoch
}

func (c *Controller) loop(ctx context.Context, r run, done chan struct{}) {
	defer close(done)
	start := time.Now()

	if r.prev != nil {
		select {
		case <-r.prev:
		case <-ctx.Done():
			<-r.prev
			c.abort(r, ctx.Err())
			return
		}
	}

	for {
		c.mu.Lock()
		if !c.activeLocked(r.epoch) {
			c.mu.Unlock()
			return
		}
		idx := c.cursor
		contact := c.contacts[idx]
		c.mu.Unlock()

		// Contacts resolved on an earlier pass are never re-sent.
		if contact.Status == StatusPending {
			status, reason := c.deliver(ctx, r, idx, contact)

			c.mu.Lock()
			if !c.activeLocked(r.epoch) {
				c.mu.Unlock()
				log.Debug().Str("run", r.id).Int("index", idx).Str("status", string(status)).Msg("discarding send result of cancelled run")
				return
			}
			c.contacts[idx].Status = status
			c.contacts[idx].ErrorMessage = reason
			c.unlockAndPublish()
		}

		if err := c.sleep(ctx, r.cfg.Interval()); err != nil {
			c.abort(r, err)
			return
		}

		c.mu.Lock()
		if !c.activeLocked(r.epoch) {
			c.mu.Unlock()
			return
		}
		if idx+1 >= len(c.contacts) {
			c.processing = false
			c.cursor = -1
			if c.stop != nil {
				c.stop()
				c.stop = nil
			}
			stats := c.snapshotLocked().Stats()
			c.unlockAndPublish()

			ev := log.Info()
			if stats.Failed > 0 {
				ev = log.Warn()
			}
			ev.Str("run", r.id).Int("total", stats.Total).Int("sent", stats.Sent).Int("failed", stats.Failed).Dur("took", time.Since(start)).Msg("dispatch run finished")
			return
		}
		c.cursor = idx + 1
		c.unlockAndPublish()
	}
}

// abort halts the run after its context ended. Nothing happens when Cancel
// or a newer Start already fenced it off.
func (c *Controller) abort(r run, err error) {
	c.mu.Lock()
	if !c.activeLocked(r.epoch) {
		c.mu.Unlock()
		return
	}
	// The caller's context ended without Cancel being called.
	c.haltLocked()
	c.unlockAndPublish()
	log.Warn().Str("run", r.id).Err(err).Msg("dispatch run aborted")
}

// deliver renders and sends the message for one contact and maps the
// outcome to a status. It never returns an error: every failure is recorded
// on the contact.
func (c *Controller) deliver(ctx context.Context, r run, idx int, contact Contact) (Status, string) {
	phone := NormalizePhone(contact.Phone)
	if phone == "" {
		log.Warn().Str("run", r.id).Int("index", idx).Str("phone", contact.Phone).Msg("skipping contact without phone digits")
		return StatusFailed, invalidPhoneError
	}
	if !c.sender.IsConnected() {
		return StatusFailed, ErrNotConnected.Error()
	}

	text := renderMessage(r.cfg.MessageTemplate, r.rows[idx])

	// Cancel must not abort a send that is already on the wire.
	err := c.send(context.WithoutCancel(ctx), phone, text)
	if err != nil {
		log.Warn().Str("run", r.id).Int("index", idx).Str("phone", phone).Err(err).Msg("dispatch send failed")
		return StatusFailed, failureReason(err)
	}
	log.Debug().Str("run", r.id).Int("index", idx).Str("phone", phone).Msg("dispatch send ok")
	return StatusSent, ""
}

// send calls the session layer, turning a panic into an error.
func (c *Controller) send(ctx context.Context, phone, text string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("send panicked: %v", p)
		}
	}()
	return c.sender.Send(ctx, phone, text)
}

func renderMessage(tmpl string, row map[string]string) string {
	return template.Render(tmpl, row)
}
