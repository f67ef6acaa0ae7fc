package feed

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Channel names that drive price broadcasts. Other names are accepted and
// tracked but never broadcast by the feed.
const (
	ChannelTicker    = "ticker"
	ChannelLevel2    = "level2"
	ChannelHeartbeat = "heartbeat"
	ChannelMatches   = "matches"
	ChannelStatus    = "status"
)

var errInvalidChannel = errors.New("invalid channel format")

// Channel is a channel entry from a subscribe request. It is either a bare
// name ("ticker") or an object carrying a name plus arbitrary extra fields
// ({"name":"ticker","product_ids":[...]}). Objects keep their original
// encoding so confirmations can echo them back unchanged.
type Channel struct {
	Name string
	raw  json.RawMessage
}

// Named returns a bare-name channel.
func Named(name string) Channel {
	return Channel{Name: name}
}

// Described reports whether the channel was given in object form.
func (c Channel) Described() bool {
	return c.raw != nil
}

// MarshalJSON echoes object channels verbatim and encodes named ones as a
// JSON string.
func (c Channel) MarshalJSON() ([]byte, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	return json.Marshal(c.Name)
}

// UnmarshalJSON accepts either a string or an object with a string "name".
func (c *Channel) UnmarshalJSON(data []byte) error {
	ch, err := parseChannel(data)
	if err != nil {
		return err
	}
	*c = ch
	return nil
}

func parseChannel(data json.RawMessage) (Channel, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Channel{}, errInvalidChannel
	}

	switch data[0] {
	case '"':
		var name string
		if err := json.Unmarshal(data, &name); err != nil || name == "" {
			return Channel{}, errInvalidChannel
		}
		return Named(name), nil
	case '{':
		var obj struct {
			Name *string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil || obj.Name == nil || *obj.Name == "" {
			return Channel{}, errInvalidChannel
		}
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Channel{Name: *obj.Name, raw: raw}, nil
	default:
		return Channel{}, errInvalidChannel
	}
}

// Key identifies one unit of subscription state.
type Key struct {
	Channel   string
	ProductID string
}

// drivesPrice reports whether subscribers of the channel receive ticker
// broadcasts.
func drivesPrice(channel string) bool {
	return channel == ChannelTicker || channel == ChannelLevel2
}
