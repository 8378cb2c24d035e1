package helper

import "testing"

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"5511999999999":                "5511999999999@s.whatsapp.net",
		"+55 (11) 99999-9999":          "5511999999999@s.whatsapp.net",
		"5511999999999@s.whatsapp.net": "5511999999999@s.whatsapp.net",
		"120363000000000000@g.us":      "120363000000000000@g.us",
		"  5511999999999  ":            "5511999999999@s.whatsapp.net",
		"":                             "",
	}
	for in, want := range cases {
		if got := NormalizeAddress(in); got != want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractPhoneFromJID(t *testing.T) {
	cases := map[string]string{
		"5511999999999:12@s.whatsapp.net": "5511999999999",
		"5511999999999@s.whatsapp.net":    "5511999999999",
		"5511999999999":                   "5511999999999",
	}
	for in, want := range cases {
		if got := ExtractPhoneFromJID(in); got != want {
			t.Errorf("ExtractPhoneFromJID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMessageKind(t *testing.T) {
	cases := map[string]string{
		"conversation":        "text",
		"extendedTextMessage": "text",
		"imageMessage":        "image",
		"videoMessage":        "video",
		"audioMessage":        "audio",
		"documentMessage":     "document",
		"stickerMessage":      "stickerMessage",
	}
	for in, want := range cases {
		if got := MessageKind(in); got != want {
			t.Errorf("MessageKind(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsMediaKind(t *testing.T) {
	for _, k := range []string{"image", "video", "audio", "document"} {
		if !IsMediaKind(k) {
			t.Errorf("IsMediaKind(%q) = false", k)
		}
	}
	if IsMediaKind("text") || IsMediaKind("sticker") {
		t.Errorf("non-media kinds accepted")
	}
}
