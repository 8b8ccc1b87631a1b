package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/app/breakout"
	"github.com/dkeye/Concord/internal/app/invoker"
	"github.com/dkeye/Concord/internal/app/permissions"
	"github.com/dkeye/Concord/internal/app/rooms"
	"github.com/dkeye/Concord/internal/core"
)

// clientMessage is one inbound command frame. RequestID is echoed back on
// the matching result so clients can correlate.
type clientMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type commandResult struct {
	RequestID string `json:"requestId,omitempty"`
	core.SuccessOrError
}

type kickParticipantDTO struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

type fetchPermissionsDTO struct {
	ParticipantID string `json:"participantId,omitempty"`
}

type setTemporaryPermissionDTO struct {
	ParticipantID string `json:"participantId" validate:"required"`
	PermissionKey string `json:"permissionKey" validate:"required"`
	Value         any    `json:"value"`
}

type switchRoomDTO struct {
	RoomID string `json:"roomId" validate:"required"`
}

type sendChatMessageDTO struct {
	Message string `json:"message" validate:"required"`
}

type setUserIsTypingDTO struct {
	IsTyping bool `json:"isTyping"`
}

func (ctl *Controller) handleMessage(ctx context.Context, participant core.Participant,
	conn *WsSignalConn, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		ctl.reply(conn, "", core.Fail(core.RequestError(core.CodeInvalidMessage, "malformed message")))
		return
	}

	if msg.Type == "ping" {
		_ = conn.Send("pong", nil)
		return
	}

	inv := invoker.New(participant, ctl.Perms, ctl.Conf, ctl.Validate)
	result := ctl.dispatch(ctx, inv, msg)
	ctl.reply(conn, msg.RequestID, result)
}

func (ctl *Controller) reply(conn *WsSignalConn, requestID string, result core.SuccessOrError) {
	if err := conn.Send("CommandResult", commandResult{RequestID: requestID, SuccessOrError: result}); err != nil {
		log.Debug().Str("module", "adapters.signal").Err(err).Msg("result dropped")
	}
}

func (ctl *Controller) dispatch(ctx context.Context, inv *invoker.Invoker, msg clientMessage) core.SuccessOrError {
	participant := inv.Participant()

	switch msg.Type {
	case "OpenConference":
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			return nil, ctl.Conf.OpenConference(ctx, participant.ConferenceID)
		}).
			RequirePermissions(permissions.PermConferenceCanOpenAndClose).
			Send(ctx)

	case "CloseConference":
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			return nil, ctl.Conf.CloseConference(ctx, participant.ConferenceID)
		}).
			RequirePermissions(permissions.PermConferenceCanOpenAndClose).
			ConferenceMustBeOpen().
			Send(ctx)

	case "KickParticipant":
		var dto kickParticipantDTO
		if errResult := decode(msg.Payload, &dto); errResult != nil {
			return *errResult
		}
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			target := core.NewParticipant(participant.ConferenceID, dto.ParticipantID)
			return nil, ctl.Conf.KickParticipant(ctx, target)
		}).
			ValidateObject(dto).
			RequirePermissions(permissions.PermConferenceCanKickParticipant).
			ConferenceMustBeOpen().
			Send(ctx)

	case "FetchPermissions":
		var dto fetchPermissionsDTO
		if errResult := decode(msg.Payload, &dto); errResult != nil {
			return *errResult
		}
		target := participant
		var required []string
		if dto.ParticipantID != "" && dto.ParticipantID != participant.ID {
			target = core.NewParticipant(participant.ConferenceID, dto.ParticipantID)
			required = []string{permissions.PermPermissionsCanSeeAnyParticipants}
		}
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			info, err := ctl.Perms.FetchPermissions(ctx, target)
			if err != nil {
				log.Error().Str("module", "adapters.signal").Err(err).Msg("fetch permissions")
				return nil, core.InternalError()
			}
			return info, nil
		}).
			RequirePermissions(required...).
			ConferenceMustBeOpen().
			Send(ctx)

	case "SetTemporaryPermission":
		var dto setTemporaryPermissionDTO
		if errResult := decode(msg.Payload, &dto); errResult != nil {
			return *errResult
		}
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			target := core.NewParticipant(participant.ConferenceID, dto.ParticipantID)
			return nil, ctl.Perms.SetTemporaryPermission(ctx, target, dto.PermissionKey, dto.Value)
		}).
			RequirePermissions(permissions.PermPermissionsCanGiveTemporary).
			ValidateObject(dto).
			ConferenceMustBeOpen().
			Send(ctx)

	case "CreateRooms":
		var dto []rooms.RoomCreationInfo
		if errResult := decode(msg.Payload, &dto); errResult != nil {
			return *errResult
		}
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			created, err := ctl.Rooms.CreateRooms(ctx, participant.ConferenceID, dto)
			if err != nil {
				return nil, err
			}
			return created, nil
		}).
			RequirePermissions(permissions.PermRoomsCanCreateAndRemove).
			ValidateObject(dto).
			ConferenceMustBeOpen().
			Send(ctx)

	case "RemoveRooms":
		var dto []string
		if errResult := decode(msg.Payload, &dto); errResult != nil {
			return *errResult
		}
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			return nil, ctl.Rooms.RemoveRooms(ctx, participant.ConferenceID, dto)
		}).
			RequirePermissions(permissions.PermRoomsCanCreateAndRemove).
			Verify(ctl.validRoomIDList(dto)).
			ConferenceMustBeOpen().
			Send(ctx)

	case "SwitchRoom":
		var dto switchRoomDTO
		if errResult := decode(msg.Payload, &dto); errResult != nil {
			return *errResult
		}
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			return nil, ctl.Rooms.SwitchRoom(ctx, participant, dto.RoomID)
		}).
			RequirePermissions(permissions.PermRoomsCanSwitchRoom).
			ValidateObject(dto).
			ConferenceMustBeOpen().
			Send(ctx)

	case "OpenBreakoutRooms":
		var dto breakout.OpenRequest
		if errResult := decode(msg.Payload, &dto); errResult != nil {
			return *errResult
		}
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			return nil, ctl.Breakout.Open(ctx, participant.ConferenceID, dto)
		}).
			RequirePermissions(permissions.PermRoomsCanCreateAndRemove).
			ConferenceMustBeOpen().
			Send(ctx)

	case "ChangeBreakoutRooms":
		var dto breakout.ConfigPatch
		if errResult := decode(msg.Payload, &dto); errResult != nil {
			return *errResult
		}
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			return nil, ctl.Breakout.Change(ctx, participant.ConferenceID, dto)
		}).
			RequirePermissions(permissions.PermRoomsCanCreateAndRemove).
			ConferenceMustBeOpen().
			Send(ctx)

	case "CloseBreakoutRooms":
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			return nil, ctl.Breakout.Close(ctx, participant.ConferenceID)
		}).
			RequirePermissions(permissions.PermRoomsCanCreateAndRemove).
			ConferenceMustBeOpen().
			Send(ctx)

	case "SendChatMessage":
		var dto sendChatMessageDTO
		if errResult := decode(msg.Payload, &dto); errResult != nil {
			return *errResult
		}
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			sent, err := ctl.Chat.Send(ctx, participant, dto.Message)
			if err != nil {
				return nil, err
			}
			return sent, nil
		}).
			ValidateObject(dto).
			Verify(ctl.chatMessageAllowed(participant, dto.Message)).
			ConferenceMustBeOpen().
			Send(ctx)

	case "FetchChatMessages":
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			return ctl.Chat.FetchMessages(participant.ConferenceID), nil
		}).
			Send(ctx)

	case "SetUserIsTyping":
		var dto setUserIsTypingDTO
		if errResult := decode(msg.Payload, &dto); errResult != nil {
			return *errResult
		}
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			return nil, ctl.Chat.SetTyping(ctx, participant, dto.IsTyping)
		}).
			ConferenceMustBeOpen().
			Send(ctx)

	case "GetEquipmentToken":
		return inv.Create(msg.Type, func(ctx context.Context) (any, *core.DomainError) {
			token, err := ctl.Equipment.Issue(participant)
			if err != nil {
				log.Error().Str("module", "adapters.signal").Err(err).Msg("token issue")
				return nil, core.InternalError()
			}
			return token, nil
		}).
			Send(ctx)
	}

	return core.Fail(core.RequestError(core.CodeInvalidMessage, "unknown command: "+msg.Type))
}

// chatMessageAllowed checks the sender's chat permissions against the
// concrete message before it reaches the chat service.
func (ctl *Controller) chatMessageAllowed(sender core.Participant, text string) invoker.Check {
	return func(ctx context.Context) *core.DomainError {
		stack, err := ctl.Perms.Resolve(ctx, sender)
		if err != nil {
			log.Error().Str("module", "adapters.signal").Err(err).Msg("chat permission resolve")
			return core.InternalError()
		}
		allowed, err := stack.GetBool(permissions.PermChatCanSendMessage)
		if err != nil {
			return core.InternalError()
		}
		if !allowed {
			return core.PermissionDenied()
		}
		maxLen, err := stack.GetNumber(permissions.PermChatMaxMessageLength)
		if err != nil {
			return core.InternalError()
		}
		if maxLen > 0 && len(text) > int(maxLen) {
			return core.FieldValidationError(map[string]string{
				"message": "exceeds the maximum message length",
			})
		}
		return nil
	}
}

// validRoomIDList rejects empty lists and blank room ids.
func (ctl *Controller) validRoomIDList(roomIDs []string) invoker.Check {
	return func(context.Context) *core.DomainError {
		if err := ctl.Validate.Var(roomIDs, "required,min=1,dive,required"); err != nil {
			return core.FieldValidationError(map[string]string{
				"roomIds": "must be a non-empty list of room ids",
			})
		}
		return nil
	}
}

func decode(payload json.RawMessage, dto any) *core.SuccessOrError {
	if len(payload) == 0 {
		result := core.Fail(core.RequestError(core.CodeInvalidMessage, "missing payload"))
		return &result
	}
	if err := json.Unmarshal(payload, dto); err != nil {
		result := core.Fail(core.RequestError(core.CodeInvalidMessage, "malformed payload"))
		return &result
	}
	return nil
}
