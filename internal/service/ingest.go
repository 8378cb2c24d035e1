package service

import (
	"gowa-sessions/internal/helper"
	"gowa-sessions/internal/model"
	"gowa-sessions/internal/waclient"
	"gowa-sessions/internal/ws"
)

// ingest records the first message of a batch when it came from the other
// side and carries a payload. Runs on the worker.
func (o *Orchestrator) ingest(ls *liveSession, batch []waclient.IncomingMessage) {
	if len(batch) == 0 {
		return
	}
	in := batch[0]
	if in.FromMe || !in.HasPayload() {
		return
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = o.now()
	}
	msg := &model.Message{
		SessionID:   ls.id,
		MessageID:   in.ID,
		RemoteJID:   in.RemoteJID,
		FromMe:      false,
		MessageType: helper.MessageKind(in.PrimaryKey),
		Content:     in.Content,
		Timestamp:   ts,
		Status:      model.MessageStatusReceived,
	}

	ctx, cancel := o.opContext()
	defer cancel()
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		ls.log.Error().Err(err).Str("message_id", in.ID).Msg("store incoming message")
		return
	}
	ls.log.Debug().Str("message_id", in.ID).Str("type", msg.MessageType).Msg("incoming message stored")

	data := ws.IncomingMessageData{
		SessionID:   msg.SessionID,
		MessageID:   msg.MessageID,
		RemoteJID:   msg.RemoteJID,
		MessageType: msg.MessageType,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
	}
	o.publish(ws.WsEvent{Event: ws.EventIncomingMessage, SessionID: ls.id, Data: data})
	if o.notifier != nil {
		o.notifier.Notify(ls.id, ws.EventIncomingMessage, data)
	}
}
