package snitch

import (
	"context"
	"sync"

	"snitchbot/internal/transport"
	logx "snitchbot/pkg/logx"
)

// broadcastPrefix marks channel broadcasts so chat members notice them.
const broadcastPrefix = "@everyone "

// Transport is the slice of the platform contract the dispatcher needs.
type Transport interface {
	transport.Sender
	transport.Directory
}

// Totals are process-lifetime delivery counters, read by the digest job
// and the rate command.
type Totals struct {
	Batches uint64
	Sent    uint64
	Failed  uint64
	Skipped uint64
}

// Dispatcher expands abstract targets into concrete sends and executes
// them concurrently through the shared limiter.
//
// One dispatcher (and one limiter) serves the whole process; it is safe
// for concurrent use across triggering events.
type Dispatcher struct {
	tr  Transport
	lim *Limiter
	log logx.Logger

	tmu    sync.Mutex
	totals Totals
}

func NewDispatcher(tr Transport, lim *Limiter, log logx.Logger) *Dispatcher {
	return &Dispatcher{tr: tr, lim: lim, log: log}
}

func (d *Dispatcher) Limiter() *Limiter { return d.lim }

type send struct {
	target    Target
	recipient int64
	run       func(context.Context) error
}

// Dispatch delivers body (plus the optional excerpt card) to every
// expanded endpoint of targets. Failures are contained per target: the
// batch always runs to completion and partial failure is reported through
// the summary, never as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, scopeID int64, body string, att *transport.Attachment, targets []Target) Summary {
	var sum Summary

	sends := d.expand(ctx, scopeID, body, att, targets, &sum)
	sum.Attempted = len(sends)

	if len(sends) > 0 {
		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for _, s := range sends {
			wg.Add(1)
			go func(s send) {
				defer wg.Done()
				err := d.lim.Do(ctx, s.run)
				o := Outcome{Target: s.target, RecipientID: s.recipient, Status: OutcomeSent, Err: err}
				if err != nil {
					o.Status = OutcomeFailed
					d.log.Warn("delivery failed",
						logx.Int64("recipient", s.recipient),
						logx.String("kind", string(s.target.Kind)),
						logx.Err(err),
					)
				}
				mu.Lock()
				if err != nil {
					sum.Failed++
				} else {
					sum.Sent++
				}
				sum.Outcomes = append(sum.Outcomes, o)
				mu.Unlock()
			}(s)
		}
		wg.Wait()
	}

	d.tmu.Lock()
	d.totals.Batches++
	d.totals.Sent += uint64(sum.Sent)
	d.totals.Failed += uint64(sum.Failed)
	d.totals.Skipped += uint64(sum.Skipped)
	d.tmu.Unlock()

	if sum.Failed > 0 {
		d.log.Warn("delivery summary",
			logx.Int("sent", sum.Sent),
			logx.Int("failed", sum.Failed),
			logx.Int("skipped", sum.Skipped),
			logx.Int("attempted", sum.Attempted),
		)
	} else if sum.Attempted > 0 {
		d.log.Info("delivery summary",
			logx.Int("sent", sum.Sent),
			logx.Int("skipped", sum.Skipped),
		)
	}
	return sum
}

// expand resolves each target into zero or more concrete sends. Entities
// that no longer exist and bot recipients are skipped with a diagnostic
// log; directory read failures count against the batch.
func (d *Dispatcher) expand(ctx context.Context, scopeID int64, body string, att *transport.Attachment, targets []Target, sum *Summary) []send {
	var sends []send

	skip := func(t Target, id int64, why string) {
		sum.Skipped++
		sum.Outcomes = append(sum.Outcomes, Outcome{Target: t, RecipientID: id, Status: OutcomeSkipped})
		d.log.Debug("target skipped",
			logx.Int64("id", id),
			logx.String("kind", string(t.Kind)),
			logx.String("reason", why),
		)
	}
	fail := func(t Target, err error) {
		sum.Failed++
		sum.Outcomes = append(sum.Outcomes, Outcome{Target: t, RecipientID: t.ID, Status: OutcomeFailed, Err: err})
		d.log.Error("target expansion failed",
			logx.Int64("id", t.ID),
			logx.String("kind", string(t.Kind)),
			logx.Err(err),
		)
	}
	direct := func(t Target, m *transport.Entity) {
		if m == nil {
			skip(t, t.ID, "member not found")
			return
		}
		if m.IsBot {
			skip(t, m.ID, "bot recipient")
			return
		}
		id := m.ID
		sends = append(sends, send{target: t, recipient: id, run: func(c context.Context) error {
			return d.tr.SendDirect(c, id, body, att)
		}})
	}

	for _, t := range targets {
		switch t.Kind {
		case KindBroadcastChannel:
			ch, err := d.tr.ChannelByID(ctx, scopeID, t.ID)
			if err != nil {
				fail(t, err)
				continue
			}
			if ch == nil {
				skip(t, t.ID, "channel not found")
				continue
			}
			id := ch.ID
			sends = append(sends, send{target: t, recipient: id, run: func(c context.Context) error {
				return d.tr.SendToChannel(c, id, broadcastPrefix+body, att)
			}})

		case KindDirectRecipient:
			m, err := d.tr.MemberByID(ctx, scopeID, t.ID)
			if err != nil {
				fail(t, err)
				continue
			}
			direct(t, m)

		case KindRoleGroup:
			// Membership is read fresh here, never from configuration time.
			members, err := d.tr.RoleMembers(ctx, scopeID, t.ID)
			if err != nil {
				fail(t, err)
				continue
			}
			if len(members) == 0 {
				skip(t, t.ID, "role empty or gone")
				continue
			}
			for i := range members {
				m := members[i]
				direct(t, &m)
			}

		default:
			skip(t, t.ID, "unknown target kind")
		}
	}
	return sends
}

func (d *Dispatcher) Totals() Totals {
	d.tmu.Lock()
	defer d.tmu.Unlock()
	return d.totals
}
