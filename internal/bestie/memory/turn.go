// Package memory implements the short-term conversation windows that feed
// the completion prompt.
//
// Each session key owns one bounded window of turns. Windows are created
// lazily, live for the process lifetime and are never persisted.
package memory

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single role-tagged message. Turns are values and are never
// mutated once appended.
type Turn struct {
	Role    Role
	Content string
}

// UserTurn returns a user-role turn.
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantTurn returns an assistant-role turn.
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }
