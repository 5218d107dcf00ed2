package builtin

import (
	"encoding/base64"

	"github.com/danmuck/debugrelay/internal/plugins"
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/rs/zerolog/log"
)

// Capturer grabs the host's current screen.
type Capturer interface {
	Capture() (data []byte, mimeType string, err error)
}

// Screenshot answers screenshot commands with a blob event. Large images are
// chunked by the session on send.
type Screenshot struct {
	plugins.Base
	capturer Capturer
}

func NewScreenshot(c Capturer) *Screenshot {
	return &Screenshot{capturer: c}
}

func (h *Screenshot) HandleCommand(ev event.Event, _ map[string]any) {
	if h.Cap == nil {
		return
	}
	data, mimeType, err := h.capturer.Capture()
	if err != nil {
		log.Warn().Err(err).Msg("builtin.Screenshot.HandleCommand capture failed")
		return
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	reply := h.Cap.NewEvent(event.TypeBlob, map[string]any{
		"kind":      "screenshot",
		"mimeType":  mimeType,
		"data":      base64.StdEncoding.EncodeToString(data),
		"requestId": ev.ID,
		"sessionId": h.Cap.SessionID(),
	})
	h.Cap.SendEvent(reply)
}
