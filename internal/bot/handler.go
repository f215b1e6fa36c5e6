package bot

import (
	"context"

	"github.com/wolfman30/care-whatsapp-bot/internal/auth"
	"github.com/wolfman30/care-whatsapp-bot/internal/command"
)

// Request is one classified command addressed to a handler.
type Request struct {
	Command command.Command
	Args    command.Args
	Message InboundMessage
	// User is nil for senders without a session.
	User *auth.UserContext
}

// Handler turns a request into replies. Handlers never return errors:
// collaborator failures become a single user-facing message.
type Handler interface {
	Handle(ctx context.Context, req Request) []OutboundResponse
}

// CommonHandler answers help and menu for every audience.
type CommonHandler struct{}

func (CommonHandler) Handle(_ context.Context, req Request) []OutboundResponse {
	to := req.Message.SenderID
	switch req.Command {
	case command.Help:
		if req.User == nil {
			return reply(to, anonymousHelp)
		}
		return reply(to, HelpText(req.User.Kind))
	case command.Menu:
		if req.User == nil {
			return reply(to, anonymousMenu)
		}
		return reply(to, MenuText(req.User.Kind))
	default:
		return reply(to, textUnknownCommand)
	}
}
