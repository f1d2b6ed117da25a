package audit

import (
	"context"

	"github.com/weiawesome/blog-chat/pkg/log"
)

const (
	ActionJoinRoom      = "chat.join_room"
	ActionSwitchRoom    = "chat.switch_room"
	ActionSendMessage   = "chat.send_message"
	ActionSendImage     = "chat.send_image"
	ActionImageRejected = "chat.image_rejected"
	ActionDisconnect    = "chat.disconnect"
	ActionPostMessage   = "chat.api_post_message"
	ActionDeleteMessage = "chat.api_delete_message"
)

const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
)

// Log writes an audit entry through the logger carried by ctx.
func Log(ctx context.Context, action, userID, room, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoom, room).
		Msg(msg)
}

// LogTarget is Log for actions on a specific object, such as a message id.
func LogTarget(ctx context.Context, action, userID, room, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoom, room).
		Str(FieldTargetID, targetID).
		Msg(msg)
}
