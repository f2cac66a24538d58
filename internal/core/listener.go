package core

import (
	"context"
	"fmt"
	"strings"

	"snitchbot/internal/snitch"
	"snitchbot/internal/store"
	"snitchbot/internal/transport"
	logx "snitchbot/pkg/logx"
)

// Listener consumes inbound updates and turns them into command handling
// and trigger dispatches. Edits are re-checked the same way as new
// messages, so a word sneaked in after the fact still snitches.
type Listener struct {
	log  logx.Logger
	cm   *CommandManager
	st   store.Store
	det  *snitch.Detector
	disp *snitch.Dispatcher
}

func NewListener(log logx.Logger, cm *CommandManager, st store.Store, det *snitch.Detector, disp *snitch.Dispatcher) *Listener {
	return &Listener{log: log, cm: cm, st: st, det: det, disp: disp}
}

// Run drains updates until the channel closes or ctx is cancelled.
func (l *Listener) Run(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			l.handle(ctx, up)
		}
	}
}

func (l *Listener) handle(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil || msg.IsBot {
		return
	}
	if !msg.IsGroup {
		// Snitch groups are scoped to group chats; private chats have
		// nothing configured and nothing to announce.
		return
	}

	// Command-shaped messages never reach trigger detection, whether we
	// own the command or not. Edited commands are not re-executed.
	if strings.HasPrefix(msg.Text, "/") {
		if up.Kind == transport.UpdateMessage {
			l.cm.Handle(ctx, msg)
		}
		return
	}

	l.check(ctx, msg)
}

// check runs trigger detection for one message and dispatches every
// matching group. A store failure here is logged and swallowed: a flaky
// database must not take the update loop down.
func (l *Listener) check(ctx context.Context, msg *transport.Message) {
	groups, err := l.st.Groups(ctx, msg.ScopeID)
	if err != nil {
		l.log.Error("group load failed",
			logx.Int64("scope", msg.ScopeID),
			logx.Err(err),
		)
		return
	}
	if len(groups) == 0 {
		return
	}

	matches := l.det.Evaluate(groups, msg.Text)
	for name, words := range matches {
		g := groups[name]
		if len(g.Targets) == 0 {
			continue
		}

		body := snitch.Render(g.Message, snitch.TemplateContext{
			Author:  msg.AuthorName,
			Words:   words,
			Server:  msg.ScopeName,
			Channel: msg.ChannelName,
		})
		att := &transport.Attachment{
			Title:   fmt.Sprintf("%s in %s", msg.AuthorName, msg.ChannelName),
			Excerpt: msg.Text,
			Link:    msg.Link,
		}

		targets := make([]snitch.Target, 0, len(g.Targets))
		for _, t := range g.Targets {
			targets = append(targets, t)
		}

		sum := l.disp.Dispatch(ctx, msg.ScopeID, body, att, targets)
		l.log.Debug("group dispatched",
			logx.String("group", name),
			logx.Int("sent", sum.Sent),
			logx.Int("failed", sum.Failed),
			logx.Int("skipped", sum.Skipped),
		)
	}
}
