package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/webitel/action-gateway/internal/domain/model"
)

const (
	VerbParamAdd      = "paramAdd"
	VerbParamDelete   = "paramDelete"
	VerbParamsDelete  = "paramsDelete"
	VerbParamView     = "paramView"
	VerbParamsView    = "paramsView"
	VerbRoomAdd       = "roomAdd"
	VerbRoomLeave     = "roomLeave"
	VerbRoomView      = "roomView"
	VerbListenRoom    = "listenRoom"
	VerbSay           = "say"
	VerbDetailsView   = "detailsView"
	VerbDocumentation = "documentation"
	VerbQuit          = "quit"
)

var (
	// ErrQuit asks the transport to say goodbye and close the connection.
	ErrQuit        = errors.New("transport: client quit")
	ErrUnknownVerb = errors.New("transport: unknown verb")
	ErrVerbArgs    = errors.New("transport: wrong arguments for verb")
)

var verbs = map[string]struct{}{
	VerbParamAdd: {}, VerbParamDelete: {}, VerbParamsDelete: {}, VerbParamView: {},
	VerbParamsView: {}, VerbRoomAdd: {}, VerbRoomLeave: {}, VerbRoomView: {},
	VerbListenRoom: {}, VerbSay: {}, VerbDetailsView: {}, VerbDocumentation: {},
	VerbQuit: {},
}

func IsVerb(name string) bool {
	_, ok := verbs[name]
	return ok
}

// HandleVerb runs verb against the live connection. In-flight actions keep their snapshot.
func (c *Core) HandleVerb(ctx context.Context, conn *model.Connection, verb string, args []string) (any, error) {
	live := conn.Original()

	switch verb {
	case VerbParamAdd:
		key, value, err := paramPair(args)
		if err != nil {
			return nil, err
		}
		live.SetParam(key, value)
		return nil, nil

	case VerbParamDelete:
		key, err := oneArg(verb, args)
		if err != nil {
			return nil, err
		}
		live.DeleteParam(key)
		return nil, nil

	case VerbParamsDelete:
		live.ClearParams()
		return nil, nil

	case VerbParamView:
		key, err := oneArg(verb, args)
		if err != nil {
			return nil, err
		}
		v, _ := live.Param(key)
		return v, nil

	case VerbParamsView:
		return live.Params(), nil

	case VerbRoomAdd:
		room, err := oneArg(verb, args)
		if err != nil {
			return nil, err
		}
		return nil, c.rooms.AddMember(ctx, live, room)

	case VerbRoomLeave:
		room, err := oneArg(verb, args)
		if err != nil {
			return nil, err
		}
		return nil, c.rooms.RemoveMember(ctx, live, room)

	case VerbRoomView:
		room, err := oneArg(verb, args)
		if err != nil {
			return nil, err
		}
		return c.rooms.RoomStatus(ctx, room)

	case VerbListenRoom:
		room, err := oneArg(verb, args)
		if err != nil {
			return nil, err
		}
		return nil, c.rooms.Listen(ctx, live, room)

	case VerbSay:
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: %s room message", ErrVerbArgs, verb)
		}
		return nil, c.rooms.Say(ctx, live, args[0], strings.Join(args[1:], " "))

	case VerbDetailsView:
		return live.State(), nil

	case VerbDocumentation:
		return c.actions.Documentation(), nil

	case VerbQuit:
		return nil, ErrQuit

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVerb, verb)
	}
}

// paramPair accepts "key=value" or "key value...".
func paramPair(args []string) (string, string, error) {
	switch {
	case len(args) == 1:
		key, value, ok := strings.Cut(args[0], "=")
		if !ok || key == "" {
			return "", "", fmt.Errorf("%w: paramAdd key=value", ErrVerbArgs)
		}
		return key, value, nil
	case len(args) >= 2 && args[0] != "":
		return args[0], strings.Join(args[1:], " "), nil
	default:
		return "", "", fmt.Errorf("%w: paramAdd key=value", ErrVerbArgs)
	}
}

func oneArg(verb string, args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("%w: %s needs exactly one argument", ErrVerbArgs, verb)
	}
	return args[0], nil
}
