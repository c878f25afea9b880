package models

// Lifetime controls how long a staged insertion survives: "once" entries are
// consumed by the next chat turn, "permanent" entries stay until an explicit clear.
type Lifetime string

const (
	LifetimeOnce      Lifetime = "once"
	LifetimePermanent Lifetime = "permanent"
)

func ValidLifetime(l Lifetime) bool {
	return l == LifetimeOnce || l == LifetimePermanent
}

// Insertion is a staged message waiting to be spliced into the next merged
// context. Depth counts from the end of the current history: 0 lands at the
// very end, 1 before the last message, and any depth past the start of the
// history collapses to the front.
type Insertion struct {
	Role     Role     `json:"role"`
	Content  string   `json:"content"`
	Depth    int      `json:"depth"`
	Lifetime Lifetime `json:"lifetime"`
}

// Message returns the chat message this insertion contributes to a merged context.
func (i Insertion) Message() Message {
	return Message{Role: i.Role, Content: i.Content}
}
