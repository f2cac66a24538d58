package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"snitchbot/internal/snitch"
	"snitchbot/internal/transport"
	logx "snitchbot/pkg/logx"
)

const defaultDigestSchedule = "0 9 * * *"

// Digest periodically posts delivery and rate-limiter statistics to the
// operations chat. Schedule and destination follow the live config.
type Digest struct {
	log    logx.Logger
	sender transport.Sender
	disp   *snitch.Dispatcher

	mu       sync.Mutex
	cron     *cron.Cron
	entry    cron.EntryID
	schedule string
	chatID   int64
	last     snitch.Totals
}

func NewDigest(log logx.Logger, sender transport.Sender, disp *snitch.Dispatcher) *Digest {
	return &Digest{
		log:    log,
		sender: sender,
		disp:   disp,
		cron:   cron.New(),
	}
}

// Apply reconfigures the job. An empty schedule with enabled=false stops
// it; changing the schedule replaces the existing entry.
func (d *Digest) Apply(enabled bool, schedule string, chatID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.chatID = chatID

	if !enabled || chatID == 0 {
		if d.entry != 0 {
			d.cron.Remove(d.entry)
			d.entry = 0
			d.schedule = ""
		}
		return nil
	}

	if schedule == "" {
		schedule = defaultDigestSchedule
	}
	if d.entry != 0 && schedule == d.schedule {
		return nil
	}
	if d.entry != 0 {
		d.cron.Remove(d.entry)
		d.entry = 0
	}

	id, err := d.cron.AddFunc(schedule, d.emit)
	if err != nil {
		return fmt.Errorf("digest schedule %q: %w", schedule, err)
	}
	d.entry = id
	d.schedule = schedule
	d.log.Info("digest scheduled", logx.String("schedule", schedule), logx.Int64("chat", chatID))
	return nil
}

func (d *Digest) Start() { d.cron.Start() }

func (d *Digest) Stop(ctx context.Context) {
	done := d.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (d *Digest) emit() {
	d.mu.Lock()
	chatID := d.chatID
	prev := d.last
	cur := d.disp.Totals()
	d.last = cur
	d.mu.Unlock()

	if chatID == 0 {
		return
	}

	stats := d.disp.Limiter().Stats()
	body := fmt.Sprintf(
		"Snitch daily digest\nSince last digest: %d sent, %d failed, %d skipped over %d batches\nLifetime: %d sent, %d failed\nRate limit: %d/s, %d concurrent",
		cur.Sent-prev.Sent, cur.Failed-prev.Failed, cur.Skipped-prev.Skipped, cur.Batches-prev.Batches,
		cur.Sent, cur.Failed,
		stats.MaxPerSecond, stats.MaxConcurrent,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.sender.SendToChannel(ctx, chatID, body, nil); err != nil {
		d.log.Warn("digest send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}
