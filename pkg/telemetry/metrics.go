package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_appended_total",
		Help: "Messages durably appended to conversation logs.",
	})

	ReactionsToggled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_reactions_toggled_total",
		Help: "Reaction toggles applied.",
	})

	MessagesMarkedRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_marked_read_total",
		Help: "Messages whose read flag flipped to true.",
	})

	Subscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_subscribers",
		Help: "Live subscriptions by stream kind.",
	}, []string{"stream"})

	LaggedSubscribers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_subscribers_lagged_total",
		Help: "Subscribers dropped because their buffer was full.",
	}, []string{"stream"})

	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Users with at least one live connection.",
	})

	TypingRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_typing_records",
		Help: "Typing records currently held (stale ones included until swept).",
	})

	WriteRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_write_retries_total",
		Help: "Retries of writes that failed transiently.",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		MessagesAppended,
		ReactionsToggled,
		MessagesMarkedRead,
		Subscribers,
		LaggedSubscribers,
		OnlineUsers,
		TypingRecords,
		WriteRetries,
	)
}
