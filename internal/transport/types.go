package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateEdited  UpdateKind = "edited"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is a platform-neutral view of an inbound chat message.
type Message struct {
	ID          int
	ScopeID     int64 // chat/guild the message belongs to
	ScopeName   string
	ChannelID   int64
	ChannelName string
	AuthorID    int64
	AuthorName  string // display name, falls back to username
	IsBot       bool
	Text        string
	IsGroup     bool
	Link        string // permalink to the message, empty if the platform has none
}

// Attachment is the excerpt card sent along with a notification body.
// Adapters render it however the platform allows (Telegram: quoted lines).
type Attachment struct {
	Title   string
	Excerpt string
	Link    string
}

// Entity is a directory lookup result.
type Entity struct {
	ID    int64
	Name  string
	IsBot bool
}

type Member = Entity

// Sender is the minimal outbound surface (also used by the log chat sink).
type Sender interface {
	SendDirect(ctx context.Context, recipientID int64, text string, att *Attachment) error
	SendToChannel(ctx context.Context, channelID int64, text string, att *Attachment) error
}

// Directory resolves configured target text against live platform state.
// Lookups return (nil, nil) when the entity does not exist; errors are
// reserved for transport failures.
type Directory interface {
	MemberByID(ctx context.Context, scopeID, id int64) (*Entity, error)
	ChannelByID(ctx context.Context, scopeID, id int64) (*Entity, error)
	RoleByID(ctx context.Context, scopeID, id int64) (*Entity, error)

	FindRoleByName(ctx context.Context, scopeID int64, name string) (*Entity, error)
	FindMemberByName(ctx context.Context, scopeID int64, name string) (*Entity, error)
	FindChannelByName(ctx context.Context, scopeID int64, name string) (*Entity, error)

	// RoleMembers reads current membership fresh; never cached.
	RoleMembers(ctx context.Context, scopeID, roleID int64) ([]Member, error)

	// IsAdmin reports whether the user may administer the scope.
	IsAdmin(ctx context.Context, scopeID, userID int64) (bool, error)
}

// Adapter is the full contract the bot needs from a chat platform.
type Adapter interface {
	Sender
	Directory

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
