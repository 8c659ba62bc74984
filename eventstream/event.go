package eventstream

// Event is a single occurrence pushed into a Processor: a user performing
// event_type in channel_id at timestamp (seconds since epoch).
type Event struct {
	EventType string
	UserID    string
	ChannelID string
	Timestamp int64
}

// ChannelCount pairs a channel with the exact number of events observed in it.
type ChannelCount struct {
	ChannelID string
	Count     uint64
}
