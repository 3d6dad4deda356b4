package events

// Topic enumerates high-level topics inside the trading service.
type Topic string

const (
	TopicQuoteUpdate     Topic = "quote_update"
	TopicTradeStatus     Topic = "trade_status"
	TopicExecutionUpdate Topic = "execution_update"
	TopicSessionStarted  Topic = "session.started"
	TopicSessionEnded    Topic = "session.ended"
	TopicTokenDiscovered Topic = "token.discovered"
)

// Message is the payload delivered to subscribers. Identity is the wallet
// public key the message is scoped to; empty means it is for everyone.
type Message struct {
	Topic    Topic  `json:"type"`
	Identity string `json:"-"`
	Data     any    `json:"data"`
}
