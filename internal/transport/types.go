package transport

import (
	"context"
	"errors"
)

// ErrRecipientBlocked marks a delivery that can never succeed again until the
// user re-subscribes (bot blocked, account deactivated, kicked from chat).
// Adapters wrap it so callers can use errors.Is.
var ErrRecipientBlocked = errors.New("recipient blocked the bot")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// User is the sender of an update.
type User struct {
	ID        int64
	Username  string
	FirstName string
}

type Message struct {
	ID     int
	ChatID int64
	From   User
	Text   string
}

type Callback struct {
	ID        string
	ChatID    int64
	MessageID int
	From      User
	Data      string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkup is adapter-specific (Telegram: *telebot.ReplyMarkup).
	// A nil value leaves the current keyboard untouched.
	ReplyMarkup any
}

// Photo is an image to deliver. FileID, when set, refers to content already
// uploaded to the platform and takes precedence over Path.
type Photo struct {
	Path    string
	FileID  string
	Caption string
}

// Adapter is the messaging platform boundary.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	// SendPhoto returns the platform file ID of the delivered image so later
	// sends can skip the upload.
	SendPhoto(ctx context.Context, chatID int64, p Photo) (fileID string, err error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
