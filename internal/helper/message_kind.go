package helper

import "gowa-sessions/internal/model"

var payloadKinds = map[string]string{
	"conversation":               model.KindText,
	"extendedTextMessage":        model.KindText,
	"imageMessage":               model.KindImage,
	"videoMessage":               model.KindVideo,
	"ptvMessage":                 model.KindVideo,
	"audioMessage":               model.KindAudio,
	"documentMessage":            model.KindDocument,
	"documentWithCaptionMessage": model.KindDocument,
}

// MessageKind maps the primary content key of a payload to a stored kind.
// Unknown keys are stored as-is so nothing is lost.
func MessageKind(primaryKey string) string {
	if kind, ok := payloadKinds[primaryKey]; ok {
		return kind
	}
	return primaryKey
}

// IsMediaKind reports whether kind can be sent through SendMedia.
func IsMediaKind(kind string) bool {
	switch kind {
	case model.KindImage, model.KindVideo, model.KindAudio, model.KindDocument:
		return true
	}
	return false
}
