package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Link metrics
	LinesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loramesh_link_lines_total",
			Help: "Completed lines read from the link",
		},
		[]string{"result"}, // "frame" or "discarded"
	)

	LinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loramesh_link_errors_total",
			Help: "Link read and write failures",
		},
		[]string{"op"},
	)

	// Relay metrics
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loramesh_frames_received_total",
			Help: "Decoded frames by kind",
		},
		[]string{"kind"},
	)

	FramesMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loramesh_frames_malformed_total",
			Help: "Frames dropped because their fields were short or invalid",
		},
	)

	FramesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loramesh_frames_relayed_total",
			Help: "Overheard frames forwarded or suppressed",
		},
		[]string{"kind", "result"}, // result: "forwarded", "duplicate", "dropped"
	)

	// Delivery metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loramesh_messages_sent_total",
			Help: "Messages transmitted by this node, including resends",
		},
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loramesh_messages_delivered_total",
			Help: "Messages addressed to this node",
		},
	)

	AcksMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loramesh_acks_total",
			Help: "Confirm frames addressed to this node",
		},
		[]string{"result"}, // "matched" or "unmatched"
	)
)
