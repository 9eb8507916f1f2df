package presence

import "github.com/nfrund/pulse/internal/pubsub"

// Presence topics. The registry publishes on them; the gateway turns them
// into user:online and user:offline frames.
var (
	// TopicUserOnline is published every time a connection registers for a user.
	TopicUserOnline = pubsub.NewTopic[Event]("presence.user.online")

	// TopicUserOffline is published when the canonical connection of a user deregisters.
	TopicUserOffline = pubsub.NewTopic[Event]("presence.user.offline")
)

// MetaConnID is the metadata key carrying the id of the connection that caused the event.
const MetaConnID = "conn_id"
