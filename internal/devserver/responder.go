package devserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/mirrorchat/internal/types"
)

// Pusher delivers an event to every socket of a user.
type Pusher interface {
	Push(user, event string, payload any) int
}

// Reply is MirrorBot's answer to body.
func Reply(body string) string {
	return "You said: " + body
}

// Responder wraps a message store so that every user message is answered by
// a bot record, which is then pushed to the author as automated-reply. With
// a zero delay the reply is stored before Create returns.
type Responder struct {
	types.MessageStore
	pusher Pusher
	delay  time.Duration
}

func NewResponder(store types.MessageStore, pusher Pusher, delay time.Duration) *Responder {
	return &Responder{MessageStore: store, pusher: pusher, delay: delay}
}

// Create stores rec and answers it if it came from a user.
func (r *Responder) Create(ctx context.Context, rec types.Record) (*types.Record, error) {
	stored, err := r.MessageStore.Create(ctx, rec)
	if err != nil || stored.Origin != types.OriginUser {
		return stored, err
	}

	if r.delay <= 0 {
		r.reply(ctx, *stored)
		return stored, nil
	}
	go func(ctx context.Context, user types.Record) {
		time.Sleep(r.delay)
		r.reply(ctx, user)
	}(context.WithoutCancel(ctx), *stored)
	return stored, nil
}

func (r *Responder) reply(ctx context.Context, user types.Record) {
	body := Reply(user.Body)
	_, err := r.MessageStore.Create(ctx, types.Record{
		Session: user.Session,
		Author:  types.BotAuthor,
		Body:    body,
		Origin:  types.OriginBot,
	})
	if err != nil {
		slog.Error("store automated reply", "session", string(user.Session), "error", err)
		return
	}
	if r.pusher != nil {
		n := r.pusher.Push(user.Author, types.EventAutomatedReply, types.AutomatedReply{Body: body})
		slog.Debug("automated reply pushed", "user", user.Author, "sockets", n)
	}
}
