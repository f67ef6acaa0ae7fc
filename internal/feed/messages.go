package feed

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outbound message types.
const (
	TypeSubscriptions = "subscriptions"
	TypeTicker        = "ticker"
	TypeL2Update      = "l2update"
	TypeHeartbeat     = "heartbeat"
	TypeError         = "error"
)

// Inbound request types, matched case-insensitively.
const (
	requestSubscribe   = "subscribe"
	requestUnsubscribe = "unsubscribe"
)

// Error texts sent to clients.
const (
	msgInvalidJSON     = "Invalid JSON format"
	msgInvalidRequest  = "Invalid request format"
	msgUnknownType     = "Unknown request type: "
	msgNoProducts      = "No product IDs provided"
	msgNoChannels      = "No channels provided"
	msgInvalidChannel  = "Invalid channel format"
	msgInternalFailure = "Internal server error"
)

type request struct {
	Type       string            `json:"type"`
	ProductIDs []string          `json:"product_ids"`
	Channels   []json.RawMessage `json:"channels"`
}

type subscriptionsMessage struct {
	Type     string `json:"type"`
	Channels any    `json:"channels"`
}

type tickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
}

type l2Changes struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

type l2UpdateMessage struct {
	Type      string    `json:"type"`
	ProductID string    `json:"product_id"`
	Changes   l2Changes `json:"changes"`
	Time      string    `json:"time"`
}

type heartbeatMessage struct {
	Type string `json:"type"`
	Time string `json:"time"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FormatPrice renders a price with at least two decimal places, keeping any
// further precision the value carries: 55000 -> "55000.00",
// 0.123456 -> "0.123456".
func FormatPrice(p decimal.Decimal) string {
	s := p.String()
	dot := strings.IndexByte(s, '.')
	if dot < 0 || len(s)-dot-1 < 2 {
		return p.StringFixed(2)
	}
	return s
}

// FormatTime renders t as an ISO 8601 UTC timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeTicker(productID string, price decimal.Decimal, now time.Time) ([]byte, error) {
	return json.Marshal(tickerMessage{
		Type:      TypeTicker,
		ProductID: productID,
		Price:     FormatPrice(price),
		Time:      FormatTime(now),
	})
}

func encodeHeartbeat(now time.Time) ([]byte, error) {
	return json.Marshal(heartbeatMessage{Type: TypeHeartbeat, Time: FormatTime(now)})
}

func encodeError(text string) []byte {
	b, _ := json.Marshal(errorMessage{Type: TypeError, Message: text})
	return b
}
