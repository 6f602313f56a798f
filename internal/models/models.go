package models

import "time"

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	Password     string     `json:"-"`
	SessionToken string     `json:"-"`
	Online       bool       `json:"online"`
	Friends      []SubUser  `json:"friends"`
	Groups       []SubGroup `json:"groups"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PublicUser is the shape other users get to see.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Online: u.Online}
}

// SubUser is the denormalized copy of a user kept in friend and member lists.
type SubUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// SubGroup is the denormalized copy of a group kept in a user's group list.
type SubGroup struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Owner    string `json:"owner"`
	IsPublic bool   `json:"is_public"`
}

type Group struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Owner     string    `json:"owner"`
	IsPublic  bool      `json:"is_public"`
	Members   []SubUser `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

func (g *Group) Sub() SubGroup {
	return SubGroup{ID: g.ID, Title: g.Title, Owner: g.Owner, IsPublic: g.IsPublic}
}

func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

type Connection struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type RequestType string

const (
	RequestFriend      RequestType = "friend"
	RequestGroupJoin   RequestType = "group-join"
	RequestGroupInvite RequestType = "group-invite"
)

func (t RequestType) Valid() bool {
	switch t {
	case RequestFriend, RequestGroupJoin, RequestGroupInvite:
		return true
	}
	return false
}

type Request struct {
	ID        string      `json:"id"`
	Type      RequestType `json:"type"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	GroupID   string      `json:"group_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RequestFilter selects requests. Empty fields match anything.
type RequestFilter struct {
	Type    RequestType
	From    string
	To      string
	GroupID string
}

func (f RequestFilter) Matches(r *Request) bool {
	if f.Type != "" && f.Type != r.Type {
		return false
	}
	if f.From != "" && f.From != r.From {
		return false
	}
	if f.To != "" && f.To != r.To {
		return false
	}
	if f.GroupID != "" && f.GroupID != r.GroupID {
		return false
	}
	return true
}

type TargetKind string

const (
	TargetDirect TargetKind = "direct"
	TargetGroup  TargetKind = "group"
)

// Target says where a message was sent: to a single user or to a group.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func DirectTarget(userID string) Target { return Target{Kind: TargetDirect, ID: userID} }

func GroupTarget(groupID string) Target { return Target{Kind: TargetGroup, ID: groupID} }

func (t Target) IsDirect() bool { return t.Kind == TargetDirect }

func (t Target) IsGroup() bool { return t.Kind == TargetGroup }

type Message struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	Target      Target    `json:"target"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Page is a cursor window over a message stream. At most one of Before and
// After is set; a zero Limit means the default.
type Page struct {
	Limit  int
	Before time.Time
	After  time.Time
}
