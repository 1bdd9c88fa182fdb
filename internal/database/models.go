package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Source is the channel a message arrived through.
type Source string

const (
	SourceTelegram Source = "telegram"
	SourceWeb      Source = "web"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	return s == SourceTelegram || s == SourceWeb
}

// Message is one persisted conversation turn. Rows are immutable except for
// DeletedAt, which moves once from null to a timestamp on history clear.
type Message struct {
	ID            int64        `db:"id"`
	UserID        int64        `db:"user_id"`
	ChatID        int64        `db:"chat_id"`
	Role          Role         `db:"role"`
	Content       string       `db:"content"`
	MessageLength int          `db:"message_length"` // rune count at write time
	CreatedAt     time.Time    `db:"created_at"`
	DeletedAt     sql.NullTime `db:"deleted_at"`
	Source        Source       `db:"source"`
}

// Active reports whether the message has not been soft-deleted.
func (m Message) Active() bool {
	return !m.DeletedAt.Valid
}

// sqliteTimeLayouts are the text forms SQLite hands back for timestamps.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
}

// timeScanner reads a timestamp returned either as time.Time or as SQLite
// text. Values are normalized to UTC.
type timeScanner struct {
	t *time.Time
}

func (s timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.t = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		*s.t = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (s timeScanner) parse(text string) error {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			*s.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", text)
}
