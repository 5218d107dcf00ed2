package agent

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/danmuck/debugrelay/internal/store"
	"github.com/google/uuid"
)

// Identity describes the host to the remote peer. ClientID is stable across
// runs; the rest is supplied by the host.
type Identity struct {
	ClientID   string
	AppName    string
	AppVersion string
	Device     string
	Platform   string
	Extra      map[string]string
}

// LoadIdentity reads the persisted client id, creating and storing a new one
// on first run. Fields already set on base are kept.
func LoadIdentity(st store.Store, base Identity) (Identity, error) {
	id := base
	if strings.TrimSpace(id.Platform) == "" {
		id.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}
	if strings.TrimSpace(id.ClientID) != "" {
		return id, nil
	}
	if st != nil {
		if v, ok := st.Get(store.KeyClientID); ok && strings.TrimSpace(v) != "" {
			id.ClientID = v
			return id, nil
		}
	}
	id.ClientID = uuid.NewString()
	if st != nil {
		if err := st.Set(store.KeyClientID, id.ClientID); err != nil {
			return Identity{}, fmt.Errorf("agent: persist client id: %w", err)
		}
	}
	return id, nil
}

// Event builds the client-identity event sent as soon as the socket opens.
func (id Identity) Event(f *event.Factory, sessionID string) event.Event {
	payload := map[string]any{
		"clientId":   id.ClientID,
		"sessionId":  sessionID,
		"appName":    id.AppName,
		"appVersion": id.AppVersion,
		"device":     id.Device,
		"platform":   id.Platform,
	}
	if len(id.Extra) > 0 {
		extra := make(map[string]any, len(id.Extra))
		for k, v := range id.Extra {
			extra[k] = v
		}
		payload["extra"] = extra
	}
	return f.New(event.TypeClient, payload)
}
