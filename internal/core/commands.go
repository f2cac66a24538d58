package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"snitchbot/internal/snitch"
	"snitchbot/internal/store"
	"snitchbot/internal/transport"
	logx "snitchbot/pkg/logx"
)

const commandRoot = "/snitch"

// replyChunk bounds a single reply message; long listings are paginated.
const replyChunk = 3500

const usageText = `Usage:
  /snitch to <group> <target>...      notify people/roles/channels
  /snitch notto <group> <target>...   stop notifying them
  /snitch on <group> <word>...        add trigger words
  /snitch noton <group> <word>...     remove trigger words
  /snitch with <group> <message>      set the notification message
  /snitch clear [group]               remove one group, or everything
  /snitch list                        show configured groups
  /snitch rate                        show rate limiting status
  /snitch setrate <n>                 set max sends per second (1-50)`

// CommandManager owns the administrative surface: parsing /snitch
// commands, gating them to admins, and applying configuration changes
// through the store. Every item gets its own confirmation or rejection;
// one bad item never aborts the rest of the command.
type CommandManager struct {
	log  logx.Logger
	tr   snitch.Transport
	st   store.Store
	disp *snitch.Dispatcher

	mu     sync.Mutex
	owners []int64
}

func NewCommandManager(log logx.Logger, tr snitch.Transport, st store.Store, disp *snitch.Dispatcher, owners []int64) *CommandManager {
	cm := &CommandManager{log: log, tr: tr, st: st, disp: disp}
	cm.SetOwners(owners)
	return cm
}

func (cm *CommandManager) SetOwners(owners []int64) {
	cm.mu.Lock()
	cm.owners = append([]int64(nil), owners...)
	cm.mu.Unlock()
}

func (cm *CommandManager) isOwner(id int64) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, o := range cm.owners {
		if o == id {
			return true
		}
	}
	return false
}

// Handle processes one inbound command message. Returns true when the
// message was a /snitch command (handled or rejected).
func (cm *CommandManager) Handle(ctx context.Context, msg *transport.Message) bool {
	tokens := tokenizeCommandLine(msg.Text)
	if len(tokens) == 0 {
		return false
	}
	// Allow /snitch@BotName addressing.
	root := tokens[0]
	if i := strings.IndexByte(root, '@'); i > 0 {
		root = root[:i]
	}
	if root != commandRoot {
		return false
	}

	reply := func(text string) {
		if err := cm.tr.SendToChannel(ctx, msg.ChannelID, text, nil); err != nil {
			cm.log.Warn("command reply failed", logx.Int64("channel", msg.ChannelID), logx.Err(err))
		}
	}

	if !cm.allowed(ctx, msg) {
		reply("You need to be a chat admin to manage snitch settings.")
		return true
	}

	args := tokens[1:]
	if len(args) == 0 {
		reply(usageText)
		return true
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "to":
		cm.handleAddTargets(ctx, msg, rest, reply)
	case "notto":
		cm.handleRemoveTargets(ctx, msg, rest, reply)
	case "on":
		cm.handleAddWords(ctx, msg, rest, reply)
	case "noton":
		cm.handleRemoveWords(ctx, msg, rest, reply)
	case "with":
		cm.handleSetMessage(ctx, msg, rest, reply)
	case "clear":
		cm.handleClear(ctx, msg, rest, reply)
	case "list":
		cm.handleList(ctx, msg, reply)
	case "rate":
		cm.handleRate(reply)
	case "setrate":
		cm.handleSetRate(rest, reply)
	default:
		reply(usageText)
	}
	return true
}

func (cm *CommandManager) allowed(ctx context.Context, msg *transport.Message) bool {
	if cm.isOwner(msg.AuthorID) {
		return true
	}
	ok, err := cm.tr.IsAdmin(ctx, msg.ScopeID, msg.AuthorID)
	if err != nil {
		cm.log.Warn("admin check failed", logx.Int64("user", msg.AuthorID), logx.Err(err))
		return false
	}
	return ok
}

func (cm *CommandManager) handleAddTargets(ctx context.Context, msg *transport.Message, args []string, reply func(string)) {
	if len(args) < 2 {
		reply("Usage: /snitch to <group> <target>...")
		return
	}
	group, raw := args[0], args[1:]

	// Resolve against the live directory first; failures reject that one
	// item and the rest still apply.
	type resolved struct {
		key    string
		target snitch.Target
		kind   string
	}
	var adds []resolved
	for _, r := range raw {
		ent, kind, err := cm.resolveTarget(ctx, msg.ScopeID, r)
		if err != nil {
			cm.log.Warn("target resolution failed", logx.String("target", r), logx.Err(err))
			reply(fmt.Sprintf("Could not identify %s.", r))
			continue
		}
		if ent == nil {
			reply(fmt.Sprintf("Could not identify %s.", r))
			continue
		}
		adds = append(adds, resolved{key: r, target: snitch.Target{ID: ent.ID, Kind: kindOf(kind)}, kind: kind})
	}
	if len(adds) == 0 {
		return
	}

	err := cm.st.UpdateGroups(ctx, msg.ScopeID, func(groups map[string]*snitch.Group) error {
		g := groups[group]
		if g == nil {
			g = snitch.NewGroup()
			groups[group] = g
		}
		for _, a := range adds {
			g.Targets[a.key] = a.target
		}
		return nil
	})
	if err != nil {
		cm.log.Error("group update failed", logx.String("group", group), logx.Err(err))
		reply("Could not save snitch settings.")
		return
	}
	for _, a := range adds {
		reply(fmt.Sprintf("%s %s will be notified.", a.kind, a.key))
	}
}

func (cm *CommandManager) handleRemoveTargets(ctx context.Context, msg *transport.Message, args []string, reply func(string)) {
	if len(args) < 2 {
		reply("Usage: /snitch notto <group> <target>...")
		return
	}
	group, raw := args[0], args[1:]

	var removed, missing []string
	err := cm.st.UpdateGroups(ctx, msg.ScopeID, func(groups map[string]*snitch.Group) error {
		g := groups[group]
		if g == nil {
			return store.ErrNoGroup
		}
		for _, r := range raw {
			if _, ok := g.Targets[r]; ok {
				delete(g.Targets, r)
				removed = append(removed, r)
			} else {
				missing = append(missing, r)
			}
		}
		return nil
	})
	if err == store.ErrNoGroup {
		reply("Group doesn't exist.")
		return
	}
	if err != nil {
		cm.log.Error("group update failed", logx.String("group", group), logx.Err(err))
		reply("Could not save snitch settings.")
		return
	}
	for _, r := range removed {
		reply(fmt.Sprintf("Removed %s.", r))
	}
	for _, r := range missing {
		reply(fmt.Sprintf("Couldn't find %s.", r))
	}
}

func (cm *CommandManager) handleAddWords(ctx context.Context, msg *transport.Message, args []string, reply func(string)) {
	if len(args) < 2 {
		reply("Usage: /snitch on <group> <word>...")
		return
	}
	group, words := args[0], args[1:]

	err := cm.st.UpdateGroups(ctx, msg.ScopeID, func(groups map[string]*snitch.Group) error {
		g := groups[group]
		if g == nil {
			g = snitch.NewGroup()
			groups[group] = g
		}
		for _, w := range words {
			g.AddWord(w)
		}
		return nil
	})
	if err != nil {
		cm.log.Error("group update failed", logx.String("group", group), logx.Err(err))
		reply("Could not save snitch settings.")
		return
	}
	for _, w := range words {
		reply(fmt.Sprintf("%s will trigger a notification.", w))
	}
}

func (cm *CommandManager) handleRemoveWords(ctx context.Context, msg *transport.Message, args []string, reply func(string)) {
	if len(args) < 2 {
		reply("Usage: /snitch noton <group> <word>...")
		return
	}
	group, words := args[0], args[1:]

	var removed, missing []string
	err := cm.st.UpdateGroups(ctx, msg.ScopeID, func(groups map[string]*snitch.Group) error {
		g := groups[group]
		if g == nil {
			return store.ErrNoGroup
		}
		for _, w := range words {
			if g.RemoveWord(w) {
				removed = append(removed, w)
			} else {
				missing = append(missing, w)
			}
		}
		return nil
	})
	if err == store.ErrNoGroup {
		reply("Group doesn't exist.")
		return
	}
	if err != nil {
		cm.log.Error("group update failed", logx.String("group", group), logx.Err(err))
		reply("Could not save snitch settings.")
		return
	}
	for _, w := range removed {
		reply(fmt.Sprintf("%s will no longer trigger a notification.", w))
	}
	for _, w := range missing {
		reply(fmt.Sprintf("%s was not a trigger word.", w))
	}
}

func (cm *CommandManager) handleSetMessage(ctx context.Context, msg *transport.Message, args []string, reply func(string)) {
	if len(args) < 2 {
		reply("Usage: /snitch with <group> \"<message>\"")
		return
	}
	group := args[0]
	// Unquoted multi-word messages arrive as several tokens; keep them.
	message := strings.Join(args[1:], " ")

	err := cm.st.UpdateGroups(ctx, msg.ScopeID, func(groups map[string]*snitch.Group) error {
		g := groups[group]
		if g == nil {
			g = snitch.NewGroup()
			groups[group] = g
		}
		g.Message = message
		return nil
	})
	if err != nil {
		cm.log.Error("group update failed", logx.String("group", group), logx.Err(err))
		reply("Could not save snitch settings.")
		return
	}
	reply(fmt.Sprintf("Message for %s updated.", group))
}

func (cm *CommandManager) handleClear(ctx context.Context, msg *transport.Message, args []string, reply func(string)) {
	if len(args) == 0 {
		err := cm.st.UpdateGroups(ctx, msg.ScopeID, func(groups map[string]*snitch.Group) error {
			for name := range groups {
				delete(groups, name)
			}
			return nil
		})
		if err != nil {
			cm.log.Error("clear failed", logx.Err(err))
			reply("Could not save snitch settings.")
			return
		}
		reply("Cleared all snitch settings.")
		return
	}

	group := args[0]
	var found bool
	err := cm.st.UpdateGroups(ctx, msg.ScopeID, func(groups map[string]*snitch.Group) error {
		if _, ok := groups[group]; ok {
			delete(groups, group)
			found = true
		}
		return nil
	})
	if err != nil {
		cm.log.Error("clear failed", logx.String("group", group), logx.Err(err))
		reply("Could not save snitch settings.")
		return
	}
	if found {
		reply(fmt.Sprintf("Removed %s from snitch settings.", group))
	} else {
		reply(fmt.Sprintf("Could not find %s in snitch settings.", group))
	}
}

func (cm *CommandManager) handleList(ctx context.Context, msg *transport.Message, reply func(string)) {
	groups, err := cm.st.Groups(ctx, msg.ScopeID)
	if err != nil {
		cm.log.Error("group load failed", logx.Err(err))
		reply("Could not load snitch settings.")
		return
	}
	if len(groups) == 0 {
		reply("There are no notification groups set up in this chat.")
		return
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Snitching in this chat:\n")
	for _, name := range names {
		g := groups[name]
		keys := make([]string, 0, len(g.Targets))
		for k := range g.Targets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, "\t%s tells %s about %s\n",
			name, strings.Join(keys, ", "), strings.Join(g.Words, ", "))
	}
	for _, page := range paginate(b.String(), replyChunk) {
		reply(page)
	}
}

func (cm *CommandManager) handleRate(reply func(string)) {
	s := cm.disp.Limiter().Stats()
	t := cm.disp.Totals()
	var b strings.Builder
	b.WriteString("Snitch rate limiting status\n")
	fmt.Fprintf(&b, "Current usage: %d/%d sends per second\n", s.RecentSends, s.MaxPerSecond)
	fmt.Fprintf(&b, "Available capacity: %d sends\n", s.Available)
	fmt.Fprintf(&b, "Max concurrent: %d operations\n", s.MaxConcurrent)
	if s.Remaining >= 0 {
		fmt.Fprintf(&b, "Server quota: %d remaining\n", s.Remaining)
	}
	if !s.ResetAt.IsZero() {
		fmt.Fprintf(&b, "Last throttle clears %s\n", s.ResetAt.Format("15:04:05"))
	}
	fmt.Fprintf(&b, "Lifetime: %d sent, %d failed, %d skipped over %d batches",
		t.Sent, t.Failed, t.Skipped, t.Batches)
	reply(b.String())
}

func (cm *CommandManager) handleSetRate(args []string, reply func(string)) {
	if len(args) != 1 {
		reply("Usage: /snitch setrate <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || !cm.disp.Limiter().SetMaxPerSecond(n) {
		reply("Rate limit must be between 1 and 50 sends per second.")
		return
	}
	reply(fmt.Sprintf("Rate limit set to %d sends per second.", n))
}

// resolveTarget turns free-text admin input into a directory entity.
// Numeric ids (with mention decoration stripped) resolve directly; names
// match case-insensitively against roles, then members, then channels.
func (cm *CommandManager) resolveTarget(ctx context.Context, scopeID int64, raw string) (*transport.Entity, string, error) {
	stripped := strings.Trim(raw, "!<#>@&")
	if id, err := strconv.ParseInt(stripped, 10, 64); err == nil {
		if ent, err := cm.tr.MemberByID(ctx, scopeID, id); err != nil {
			return nil, "", err
		} else if ent != nil {
			return ent, "Member", nil
		}
		if ent, err := cm.tr.RoleByID(ctx, scopeID, id); err != nil {
			return nil, "", err
		} else if ent != nil {
			return ent, "Role", nil
		}
		if ent, err := cm.tr.ChannelByID(ctx, scopeID, id); err != nil {
			return nil, "", err
		} else if ent != nil {
			return ent, "Channel", nil
		}
		return nil, "", nil
	}

	if ent, err := cm.tr.FindRoleByName(ctx, scopeID, stripped); err != nil {
		return nil, "", err
	} else if ent != nil {
		return ent, "Role", nil
	}
	if ent, err := cm.tr.FindMemberByName(ctx, scopeID, stripped); err != nil {
		return nil, "", err
	} else if ent != nil {
		return ent, "Member", nil
	}
	if ent, err := cm.tr.FindChannelByName(ctx, scopeID, stripped); err != nil {
		return nil, "", err
	} else if ent != nil {
		return ent, "Channel", nil
	}
	return nil, "", nil
}

func kindOf(kind string) snitch.TargetKind {
	switch kind {
	case "Role":
		return snitch.KindRoleGroup
	case "Channel":
		return snitch.KindBroadcastChannel
	default:
		return snitch.KindDirectRecipient
	}
}

// paginate splits text on line boundaries into chunks of at most limit.
func paginate(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var (
		pages []string
		cur   strings.Builder
	)
	for _, line := range strings.SplitAfter(text, "\n") {
		if cur.Len()+len(line) > limit && cur.Len() > 0 {
			pages = append(pages, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		pages = append(pages, cur.String())
	}
	return pages
}
