package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"fsmonitor/internal/event"
	"fsmonitor/internal/logging"
	"fsmonitor/internal/monitor"

	"github.com/gorilla/websocket"
)

const eventsPerMinuteLimit = 600

// EventsHandler streams the monitor's logical events over a websocket. A
// client narrows the stream by sending {"subscribe": ["file_created", ...]};
// until then every known type is forwarded.
type EventsHandler struct {
	Bus            *event.Bus[monitor.Event]
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type eventSubscribeMessage struct {
	Subscribe []string `json:"subscribe"`
}

type eventFilter struct {
	mutex sync.RWMutex
	types map[monitor.EventType]struct{}
}

func newEventFilter() *eventFilter {
	types := make(map[monitor.EventType]struct{})
	for _, eventType := range monitor.EventTypes() {
		types[eventType] = struct{}{}
	}
	return &eventFilter{types: types}
}

func (filter *eventFilter) Allows(eventType monitor.EventType) bool {
	if filter == nil {
		return true
	}
	filter.mutex.RLock()
	defer filter.mutex.RUnlock()
	_, ok := filter.types[eventType]
	return ok
}

func (filter *eventFilter) Set(subscriptions []string) {
	if filter == nil {
		return
	}
	types := make(map[monitor.EventType]struct{})
	for _, name := range subscriptions {
		if eventType, ok := monitor.ParseEventType(name); ok {
			types[eventType] = struct{}{}
		}
	}
	filter.mutex.Lock()
	filter.types = types
	filter.mutex.Unlock()
}

type rateLimiter struct {
	mutex       sync.Mutex
	count       int
	windowStart time.Time
}

func (limiter *rateLimiter) Allow(now time.Time) bool {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	if limiter.windowStart.IsZero() || now.Sub(limiter.windowStart) >= time.Minute {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= eventsPerMinuteLimit {
		return false
	}
	limiter.count++
	return true
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	filter := newEventFilter()
	limiter := &rateLimiter{}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	if h.Bus == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "event bus unavailable",
			SendEnvelope: true,
		})
		return
	}

	events, cancel := h.Bus.Subscribe()
	if events == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusServiceUnavailable,
			Message:      "event stream unavailable",
			SendEnvelope: true,
		})
		return
	}

	writer, err := startWSWriteLoop(wsStreamConfig[monitor.Event]{
		Conn:   conn,
		Output: events,
		Logger: h.Logger,
		BuildPayload: func(logical monitor.Event) (any, bool) {
			if !filter.Allows(logical.Type) {
				return nil, false
			}
			if !limiter.Allow(time.Now()) {
				return nil, false
			}
			if logical.Timestamp.IsZero() {
				logical.Timestamp = time.Now().UTC()
			}
			return logical, true
		},
	})
	if err != nil {
		cancel()
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "event stream unavailable",
			Err:          err,
			SendEnvelope: true,
		})
		return
	}
	defer cancel()
	defer writer.Stop()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var payload eventSubscribeMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		filter.Set(payload.Subscribe)
	}
}
