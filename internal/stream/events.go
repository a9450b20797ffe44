package stream

import "github.com/skypro1111/live-caption-client/internal/transcription"

type eventKind int

const (
	eventAdd eventKind = iota
	eventSettled
	eventHeader
	eventOpen
	eventClose
	eventMessage
	eventError
	eventTimeout
)

func (k eventKind) String() string {
	switch k {
	case eventAdd:
		return "add"
	case eventSettled:
		return "settled"
	case eventHeader:
		return "header"
	case eventOpen:
		return "open"
	case eventClose:
		return "close"
	case eventMessage:
		return "message"
	case eventError:
		return "error"
	case eventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// event is the unit of work of the pipeline loop. id identifies the settle
// timer or the request a timer belongs to.
type event struct {
	kind eventKind
	data []byte
	err  error
	id   uint64
}

// channelEvents feeds transport callbacks into the pipeline loop.
type channelEvents struct {
	p *Pipeline
}

var _ transcription.Handler = channelEvents{}

func (h channelEvents) OnOpen() {
	h.p.post(event{kind: eventOpen})
}

func (h channelEvents) OnClose(err error) {
	h.p.post(event{kind: eventClose, err: err})
}

func (h channelEvents) OnMessage(payload []byte) {
	h.p.post(event{kind: eventMessage, data: payload})
}

func (h channelEvents) OnError(err error) {
	h.p.post(event{kind: eventError, err: err})
}
