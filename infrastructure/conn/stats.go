package conn

import "time"

// Stats mirrors spec.md §6's Connection::stats() return value.
type Stats struct {
	RTT           time.Duration
	BytesSent     uint64
	BytesReceived uint64
	PacketsLost   uint64 // cumulative across all packet-number spaces
	BytesInFlight int
	CWND          int
	PacingRate    float64
	StreamCount   int
}
