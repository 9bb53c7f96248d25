package subscription

import (
	"strings"

	"github.com/rickgao/alert-feed/internal/connection"
)

// Transport is the part of connection.Manager the registry observes.
type Transport interface {
	BrokerSubscribe(topic string) bool
	BrokerUnsubscribe(topic string) bool
	IsConnected() bool
	SetInbound(h connection.InboundHandler)
	Listen(fn connection.Listener) (remove func())
}

// Handler receives the body of every message delivered on a topic.
// Handlers run on the delivery path and must not block.
type Handler func(topic string, body []byte)

// Handle identifies one Subscribe call. The zero Handle is invalid.
type Handle struct {
	id    uint64
	topic string
}

// Topic returns the topic the handle was registered on.
func (h Handle) Topic() string {
	return h.topic
}

// Valid reports whether the handle came from Subscribe.
func (h Handle) Valid() bool {
	return h.id != 0
}

// Stats provides statistics about the registry.
type Stats struct {
	Topics       int
	Handlers     int
	Delivered    int64 // Handler invocations
	Unrouted     int64 // Messages for topics without handlers
	Resubscribes int64 // Broker subscribes re-issued on connect
	Panics       int64
}

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// TopicConfig names the broker topics alerts are published on.
type TopicConfig struct {
	Global         string `yaml:"global"`
	PersonalPrefix string `yaml:"personal_prefix"`
}

// DefaultTopicConfig returns the broker's standard topic names.
func DefaultTopicConfig() TopicConfig {
	return TopicConfig{
		Global:         "/topic/alertes",
		PersonalPrefix: "/topic/alertes",
	}
}

// GlobalTopic returns the broadcast topic.
func (c TopicConfig) GlobalTopic() string {
	return c.Global
}

// PersonalTopic returns the topic of one identity: <prefix>/employe/{id}.
func (c TopicConfig) PersonalTopic(identity string) string {
	return strings.TrimRight(c.PersonalPrefix, "/") + "/employe/" + identity
}
