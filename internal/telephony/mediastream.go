package telephony

import (
	"encoding/json"
	"net/http"

	"telecom-platform/internal/callengine"
	"telecom-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var mediaStreamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mediaStreamFrame is the subset of the Twilio Media Streams protocol this
// service consumes: connected/start/media/stop events, of which only
// "media" carries a packet. sequenceNumber, media.payload, and
// media.timestamp map directly onto the core's sequence/data/timestamp.
type mediaStreamFrame struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber"`
	Start          struct {
		CallSid string `json:"callSid"`
	} `json:"start"`
	Media struct {
		Payload   string `json:"payload"`
		Timestamp string `json:"timestamp"`
	} `json:"media"`
}

// MediaStreamHandler bridges a PBX's media-stream websocket connection to
// the call engine: each "media" frame becomes one Ingest call. The
// admission slot acquired for this call is released when the call reaches
// a terminal state (see cmd/api's admission releaser), not when this
// socket closes: a "stop" frame or dropped connection commonly arrives
// well before the AI pipeline finishes, and releasing here would let a
// new call in while this one is still being transcribed.
type MediaStreamHandler struct {
	Engine *callengine.Engine
}

func NewMediaStreamHandler(engine *callengine.Engine) *MediaStreamHandler {
	return &MediaStreamHandler{Engine: engine}
}

func (h *MediaStreamHandler) HandleStream(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	conn, err := mediaStreamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media stream upgrade failed", "call_id", callID, "err", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return // client closed, or transport error: nothing more to do
		}

		var frame mediaStreamFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Warn("media stream frame decode failed", "call_id", callID, "err", err)
			continue
		}

		switch frame.Event {
		case "media":
			seq, ok := parsePositiveInt(frame.SequenceNumber)
			if !ok {
				log.Warn("media stream frame missing sequenceNumber", "call_id", callID)
				continue
			}
			ts, ok := parseTimestamp(frame.Media.Timestamp)
			if !ok || ts <= 0 {
				continue
			}
			if frame.Media.Payload == "" {
				continue
			}
			if err := h.Engine.Ingest(c.Request.Context(), callID, seq, frame.Media.Payload, ts); err != nil {
				log.Warn("ingest rejected media frame", "call_id", callID, "err", err)
			}
		case "stop":
			return
		}
	}
}
