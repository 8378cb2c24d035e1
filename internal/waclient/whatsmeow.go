package waclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

var ErrForeignCredentials = errors.New("credentials were not loaded by the device store")

type WhatsmeowFactory struct {
	log zerolog.Logger
}

// NewFactory sets the device name shown in the phone's linked devices list.
// DeviceProps is process-wide in whatsmeow, so this is done once.
func NewFactory(log zerolog.Logger, osName string) *WhatsmeowFactory {
	if osName != "" {
		store.DeviceProps.Os = proto.String(osName)
	}
	return &WhatsmeowFactory{log: log}
}

func (f *WhatsmeowFactory) Connect(ctx context.Context, creds Credentials, sink func(Event)) (Handle, error) {
	dc, ok := creds.(*DeviceCredentials)
	if !ok {
		return nil, ErrForeignCredentials
	}

	log := f.log.With().Str("session", dc.sessionID).Logger()
	client := whatsmeow.NewClient(dc.device, waLog.Zerolog(log.With().Str("component", "whatsmeow").Logger()))
	// reconnects are driven by the session orchestrator
	client.EnableAutoReconnect = false

	h := &whatsmeowHandle{
		client: client,
		sink:   sink,
		log:    log,
	}
	client.AddEventHandler(h.handleEvent)

	if client.Store.ID != nil {
		if err := client.Connect(); err != nil {
			client.RemoveEventHandlers()
			return nil, fmt.Errorf("connect: %w", err)
		}
		return h, nil
	}

	// Not paired yet: the QR channel has to exist before Connect.
	qrCtx, cancel := context.WithCancel(context.Background())
	qrChan, err := client.GetQRChannel(qrCtx)
	if err != nil {
		cancel()
		client.RemoveEventHandlers()
		return nil, fmt.Errorf("get qr channel: %w", err)
	}
	h.cancelQR = cancel

	if err := client.Connect(); err != nil {
		cancel()
		client.RemoveEventHandlers()
		return nil, fmt.Errorf("connect: %w", err)
	}
	go h.pumpQR(qrChan)

	return h, nil
}

type whatsmeowHandle struct {
	client   *whatsmeow.Client
	sink     func(Event)
	log      zerolog.Logger
	cancelQR context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
}

func (h *whatsmeowHandle) emit(evt Event) {
	if h.closed.Load() {
		return
	}
	h.sink(evt)
}

func (h *whatsmeowHandle) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch {
		case item.Event == whatsmeow.QRChannelEventCode:
			h.emit(Event{Kind: EventQR, QRCode: item.Code})
		case item.Event == whatsmeow.QRChannelSuccess.Event:
			h.log.Info().Msg("qr scanned, pairing succeeded")
			return
		case item.Event == whatsmeow.QRChannelTimeout.Event:
			h.emit(Event{Kind: EventDisconnected, Reason: CloseQRTimeout})
			return
		case item.Event == whatsmeow.QRChannelEventError, strings.HasPrefix(item.Event, "err-"):
			err := item.Error
			if err == nil {
				err = errors.New(item.Event)
			}
			h.emit(Event{Kind: EventDisconnected, Reason: CloseConnectFailure, Err: err})
			return
		}
	}
}

func (h *whatsmeowHandle) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		h.emit(Event{Kind: EventCredentialsUpdated})

	case *events.Connected:
		identity := ""
		if h.client.Store.ID != nil {
			identity = h.client.Store.ID.String()
		}
		h.emit(Event{Kind: EventConnected, Identity: identity})

	case *events.LoggedOut:
		h.emit(Event{Kind: EventDisconnected, Reason: CloseLoggedOut})

	case *events.StreamReplaced:
		h.emit(Event{Kind: EventDisconnected, Reason: CloseStreamReplaced})

	case *events.ConnectFailure:
		h.emit(Event{Kind: EventDisconnected, Reason: CloseConnectFailure, Err: fmt.Errorf("connect failure: %s", v.Reason.String())})

	case *events.TemporaryBan:
		h.emit(Event{Kind: EventDisconnected, Reason: CloseConnectFailure, Err: fmt.Errorf("temporary ban: %s", v.String())})

	case *events.Disconnected:
		h.emit(Event{Kind: EventDisconnected, Reason: CloseConnectionLost})

	case *events.Message:
		h.emit(Event{Kind: EventMessages, Messages: []IncomingMessage{toIncoming(v)}})
	}
}

func (h *whatsmeowHandle) Close() {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		if h.cancelQR != nil {
			h.cancelQR()
		}
		h.client.RemoveEventHandlers()
		h.client.Disconnect()
	})
}

func (h *whatsmeowHandle) Logout(ctx context.Context) error {
	// stop reporting first so the logout is not seen as a remote close
	h.closed.Store(true)
	err := h.client.Logout(ctx)
	h.Close()
	return err
}

func (h *whatsmeowHandle) Send(ctx context.Context, to string, out Outbound) (string, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", to, err)
	}

	msg, err := h.buildMessage(ctx, out)
	if err != nil {
		return "", err
	}

	resp, err := h.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return string(resp.ID), nil
}

func (h *whatsmeowHandle) buildMessage(ctx context.Context, out Outbound) (*waE2E.Message, error) {
	if out.Media == nil {
		return &waE2E.Message{Conversation: proto.String(out.Text)}, nil
	}

	mediaType, ok := map[string]whatsmeow.MediaType{
		"image":    whatsmeow.MediaImage,
		"video":    whatsmeow.MediaVideo,
		"audio":    whatsmeow.MediaAudio,
		"document": whatsmeow.MediaDocument,
	}[out.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported media kind %q", out.Kind)
	}

	up, err := h.client.Upload(ctx, out.Media.Data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", out.Kind, err)
	}

	m := out.Media
	switch out.Kind {
	case "image":
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(out.Caption),
			Mimetype:      proto.String(m.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			JPEGThumbnail: m.Thumbnail,
		}}, nil
	case "video":
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(out.Caption),
			Mimetype:      proto.String(m.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			JPEGThumbnail: m.Thumbnail,
		}}, nil
	case "audio":
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(m.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	default:
		fileName := m.FileName
		if fileName == "" {
			fileName = "document"
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(out.Caption),
			Title:         proto.String(fileName),
			FileName:      proto.String(fileName),
			Mimetype:      proto.String(m.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	}
}

func (h *whatsmeowHandle) ResolveAddress(ctx context.Context, number string) (AddressInfo, error) {
	resp, err := h.client.IsOnWhatsApp(ctx, []string{number})
	if err != nil {
		return AddressInfo{}, fmt.Errorf("is on whatsapp: %w", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return AddressInfo{Exists: false}, nil
	}
	return AddressInfo{Exists: true, JID: resp[0].JID.String()}, nil
}

// FetchProfile is best effort: either half may be hidden by privacy
// settings, which leaves that field empty rather than failing the call.
func (h *whatsmeowHandle) FetchProfile(ctx context.Context, address string) (Profile, error) {
	jid, err := types.ParseJID(address)
	if err != nil {
		return Profile{}, fmt.Errorf("parse address %q: %w", address, err)
	}

	var p Profile
	if info, err := h.client.GetUserInfo(ctx, []types.JID{jid}); err == nil {
		p.Status = info[jid].Status
	} else {
		h.log.Debug().Err(err).Str("jid", address).Msg("user info unavailable")
	}

	pic, err := h.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{Preview: false})
	if err == nil && pic != nil {
		p.PictureURL = pic.URL
	} else if err != nil {
		h.log.Debug().Err(err).Str("jid", address).Msg("profile picture unavailable")
	}
	return p, nil
}

func toIncoming(evt *events.Message) IncomingMessage {
	m := IncomingMessage{
		ID:         string(evt.Info.ID),
		RemoteJID:  evt.Info.Chat.String(),
		FromMe:     evt.Info.IsFromMe,
		Timestamp:  evt.Info.Timestamp,
		PrimaryKey: primaryKey(evt.Message),
	}
	if m.PrimaryKey != "" {
		if raw, err := protojson.Marshal(evt.Message); err == nil {
			m.Content = string(raw)
		}
	}
	return m
}

// primaryKey returns the JSON name of the lowest-numbered content field set
// on msg. Context info and group sender keys ride along with real content
// and are never the primary field.
func primaryKey(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	var best protoreflect.FieldDescriptor
	msg.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, _ protoreflect.Value) bool {
		switch fd.JSONName() {
		case "messageContextInfo", "senderKeyDistributionMessage":
			return true
		}
		if best == nil || fd.Number() < best.Number() {
			best = fd
		}
		return true
	})
	if best == nil {
		return ""
	}
	return best.JSONName()
}
