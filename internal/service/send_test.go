package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"gowa-sessions/internal/model"
	"gowa-sessions/internal/waclient"
)

func TestSendMessage_Connected(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	conn := h.connected(t, "s1")

	id, err := h.o.SendMessage(ctx, "s1", "5511999999999", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "MSG-1" {
		t.Fatalf("id = %q", id)
	}

	sent := conn.sentMessages()
	if len(sent) != 1 || sent[0].to != "5511999999999@s.whatsapp.net" || sent[0].msg.Text != "hello" {
		t.Fatalf("sent = %+v", sent)
	}

	msgs, _ := h.o.ListMessages(ctx, "s1", 10, 0)
	if len(msgs) != 1 {
		t.Fatalf("records = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if !m.FromMe || m.Content != "hello" || m.Status != model.MessageStatusSent || m.MessageType != model.KindText {
		t.Fatalf("record = %+v", m)
	}
}

func TestSendMessage_KeepsFullAddress(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connected(t, "s1")

	if _, err := h.o.SendMessage(context.Background(), "s1", "12036304@g.us", "hi group"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if to := conn.sentMessages()[0].to; to != "12036304@g.us" {
		t.Fatalf("to = %q", to)
	}
}

func TestSendMessage_UnknownIDIsNotRecorded(t *testing.T) {
	h := newHarness(t, Options{})
	h.factory.sendID = ""
	h.connected(t, "s1")

	id, err := h.o.SendMessage(context.Background(), "s1", "5511999999999", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != unknownMessageID {
		t.Fatalf("id = %q", id)
	}
	if n := h.store.messageCount("s1"); n != 0 {
		t.Fatalf("records = %d", n)
	}
}

func TestSendMessage_QRReadyIsNotConnected(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	if err := h.o.InitializeSession(ctx, "s1"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	conn := h.factory.last(t, "s1")
	conn.emit(waclient.Event{Kind: waclient.EventQR, QRCode: "abc"})
	eventually(t, func() bool { return h.store.session(t, "s1").Status == model.StatusQRReady }, "qr_ready")

	_, err := h.o.SendMessage(ctx, "s1", "5511999999999", "hello")
	if !errors.Is(err, ErrSessionNotConnected) {
		t.Fatalf("err = %v, want not connected", err)
	}
	if n := h.store.messageCount("s1"); n != 0 {
		t.Fatalf("records = %d", n)
	}
	if len(conn.sentMessages()) != 0 {
		t.Fatalf("client was asked to send")
	}
}

func TestSendMessage_Errors(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.store.put(model.Session{SessionID: "idle", Status: model.StatusDisconnected})

	cases := []struct {
		name      string
		sessionID string
		to, body  string
		want      error
	}{
		{"missing to", "s1", "", "hi", ErrValidation},
		{"missing body", "s1", "5511", "", ErrValidation},
		{"missing session", "", "5511", "hi", ErrValidation},
		{"unknown session", "nope", "5511", "hi", ErrSessionNotFound},
		{"not live", "idle", "5511", "hi", ErrSessionNotConnected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.o.SendMessage(ctx, tc.sessionID, tc.to, tc.body)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSendMessage_ClientFailureIsUpstream(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.connected(t, "s1")
	conn.mu.Lock()
	conn.sendErr = errBoom
	conn.mu.Unlock()

	_, err := h.o.SendMessage(context.Background(), "s1", "5511999999999", "hello")
	if !errors.Is(err, ErrUpstream) || !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
}

func TestSendMessage_RecordFailureIsAbsorbed(t *testing.T) {
	h := newHarness(t, Options{})
	h.connected(t, "s1")
	h.store.mu.Lock()
	h.store.appendErr = errBoom
	h.store.mu.Unlock()

	if _, err := h.o.SendMessage(context.Background(), "s1", "5511999999999", "hello"); err != nil {
		t.Fatalf("send failed because history could not be written: %v", err)
	}
}

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestSendMedia_Image(t *testing.T) {
	fixture := pngFixture(t, 200, 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(fixture)
	}))
	defer srv.Close()

	h := newHarness(t, Options{})
	ctx := context.Background()
	conn := h.connected(t, "s1")

	id, err := h.o.SendMedia(ctx, "s1", MediaRequest{
		To:      "5511999999999",
		Kind:    model.KindImage,
		URL:     srv.URL + "/pics/cat.png",
		Caption: "look",
	})
	if err != nil {
		t.Fatalf("send media: %v", err)
	}
	if id != "MSG-1" {
		t.Fatalf("id = %q", id)
	}

	out := conn.sentMessages()[0].msg
	if out.Kind != model.KindImage || out.Caption != "look" || out.Media == nil {
		t.Fatalf("outbound = %+v", out)
	}
	if out.Media.MimeType != "image/png" || out.Media.FileName != "cat.png" || !bytes.Equal(out.Media.Data, fixture) {
		t.Fatalf("media = %s %s (%d bytes)", out.Media.MimeType, out.Media.FileName, len(out.Media.Data))
	}
	if len(out.Media.Thumbnail) == 0 {
		t.Fatalf("no thumbnail")
	}

	msgs, _ := h.o.ListMessages(ctx, "s1", 10, 0)
	if len(msgs) != 1 || msgs[0].MessageType != model.KindImage {
		t.Fatalf("records = %+v", msgs)
	}
	var content struct {
		MediaURL string `json:"mediaUrl"`
		Caption  string `json:"caption"`
	}
	if err := json.Unmarshal([]byte(msgs[0].Content), &content); err != nil {
		t.Fatalf("content: %v", err)
	}
	if content.MediaURL != srv.URL+"/pics/cat.png" || content.Caption != "look" {
		t.Fatalf("content = %+v", content)
	}
}

func TestSendMedia_Validation(t *testing.T) {
	h := newHarness(t, Options{})
	h.connected(t, "s1")

	_, err := h.o.SendMedia(context.Background(), "s1", MediaRequest{To: "5511", Kind: "sticker", URL: "http://x/y"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("bad kind err = %v", err)
	}
	_, err = h.o.SendMedia(context.Background(), "s1", MediaRequest{To: "5511", Kind: model.KindImage})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("missing url err = %v", err)
	}
}

func TestSendMedia_FetchFailureIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	h := newHarness(t, Options{})
	h.connected(t, "s1")

	_, err := h.o.SendMedia(context.Background(), "s1", MediaRequest{To: "5511", Kind: model.KindDocument, URL: srv.URL + "/missing.pdf"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v", err)
	}
	if n := h.store.messageCount("s1"); n != 0 {
		t.Fatalf("records = %d", n)
	}
}

func TestCheckNumberAndProfile(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	conn := h.connected(t, "s1")
	conn.resolve = waclient.AddressInfo{Exists: true, JID: "5511888888888@s.whatsapp.net"}
	conn.profile = waclient.Profile{Status: "busy", PictureURL: "https://pps.example/p.jpg"}

	info, err := h.o.CheckNumber(ctx, "s1", "+55 (11) 88888-8888")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !info.Exists || info.Number != "5511888888888" || info.JID != "5511888888888@s.whatsapp.net" {
		t.Fatalf("info = %+v", info)
	}

	p, err := h.o.GetProfile(ctx, "s1", "5511888888888")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Status != "busy" || p.JID != "5511888888888@s.whatsapp.net" || p.Number != "5511888888888" {
		t.Fatalf("profile = %+v", p)
	}

	if _, err := h.o.CheckNumber(ctx, "s1", "   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty number err = %v", err)
	}
}

func TestListMessages_Paging(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.connected(t, "s1")

	for _, id := range []string{"A", "B", "C"} {
		h.factory.last(t, "s1").sendID = id
		if _, err := h.o.SendMessage(ctx, "s1", "5511", "m"+id); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	page, err := h.o.ListMessages(ctx, "s1", 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].MessageID != "B" || page[1].MessageID != "A" {
		t.Fatalf("page = %+v", page)
	}
	if _, err := h.o.ListMessages(ctx, "", 0, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing session err = %v", err)
	}
}

func TestSetWebhook(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.store.put(model.Session{SessionID: "s1", Status: model.StatusDisconnected})

	if err := h.o.SetWebhook(ctx, "s1", "ftp://x", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad url err = %v", err)
	}
	if err := h.o.SetWebhook(ctx, "s1", "https://hooks.example/in", "sekret"); err != nil {
		t.Fatalf("set: %v", err)
	}
	rec := h.store.session(t, "s1")
	if rec.WebhookURL.String != "https://hooks.example/in" || rec.WebhookSecret.String != "sekret" {
		t.Fatalf("record = %+v", rec)
	}
	if err := h.o.SetWebhook(ctx, "nope", "https://hooks.example/in", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown session err = %v", err)
	}
}
