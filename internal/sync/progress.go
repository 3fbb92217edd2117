// progress.go exposes sync worker status over a websocket feed for
// operator tooling, bridging the in-process workerbus to external
// subscribers.
package sync

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nexnum/provider-core/internal/platform/logging"
	"github.com/nexnum/provider-core/internal/platform/workerbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// ProgressFeed upgrades operator connections to websockets and relays
// every workerbus.Status event until the client disconnects.
type ProgressFeed struct {
	bus workerbus.Bus
	log *logging.Logger
}

func NewProgressFeed(bus workerbus.Bus, log *logging.Logger) *ProgressFeed {
	return &ProgressFeed{bus: bus, log: log}
}

// ServeHTTP implements http.Handler so it can be mounted directly on
// the debug mux.
func (f *ProgressFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.WithError(err).SyncEventLogger("*", "progress-upgrade-failed", nil)
		return
	}
	defer conn.Close()

	statuses, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	for status := range statuses {
		payload, err := json.Marshal(status)
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
