package client

import "encoding/json"

// SubscriptionHandler receives the data payload of each event delivered on
// a subscribed channel.
type SubscriptionHandler func(data json.RawMessage)

// subscriptions holds the named-channel handler sets of spec.md §4.7
// "Subscription": a channel holds a set of handlers, routed to by an
// inbound broadcast envelope's channel name; removing the last handler
// frees the entry entirely.
type subscriptions struct {
	byChannel map[string]map[int]SubscriptionHandler
	nextID    int
}

func newSubscriptions() *subscriptions {
	return &subscriptions{byChannel: make(map[string]map[int]SubscriptionHandler)}
}

// add registers fn against channel and returns a token that un does.
func (s *subscriptions) add(channel string, fn SubscriptionHandler) int {
	s.nextID++
	id := s.nextID
	if s.byChannel[channel] == nil {
		s.byChannel[channel] = make(map[int]SubscriptionHandler)
	}
	s.byChannel[channel][id] = fn
	return id
}

// remove drops the handler registered under id for channel, freeing the
// channel entry if it was the last one.
func (s *subscriptions) remove(channel string, id int) {
	handlers, ok := s.byChannel[channel]
	if !ok {
		return
	}
	delete(handlers, id)
	if len(handlers) == 0 {
		delete(s.byChannel, channel)
	}
}

// dispatch invokes every handler registered for channel with data.
func (s *subscriptions) dispatch(channel string, data json.RawMessage) {
	for _, fn := range s.byChannel[channel] {
		fn(data)
	}
}
