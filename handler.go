package datasift

// EventHandler receives everything a Consumer delivers. All methods are
// called synchronously on the goroutine running the consumer, one at a time
// and in the order the frames arrived; the consumer does not read the next
// frame until the current call returns. Calling c.Stop() from inside a
// callback is allowed.
type EventHandler interface {
	// OnConnect is called each time the stream connects.
	OnConnect(c Consumer)

	// OnInteraction is called for each interaction. hash is the stream the
	// interaction matched.
	OnInteraction(c Consumer, interaction Interaction, hash string)

	// OnDeleted is called for each deletion notice. The interaction should
	// be removed from anything it was stored in.
	OnDeleted(c Consumer, interaction Interaction, hash string)

	// OnStatus is called for each status message other than errors and
	// warnings. info is the message with its status field removed.
	OnStatus(c Consumer, statusType string, info map[string]interface{})

	// OnWarning is called for warnings sent down the stream and for frames
	// the consumer could not make sense of.
	OnWarning(c Consumer, message string)

	// OnError is called for errors sent down the stream. The consumer stops
	// after an error.
	OnError(c Consumer, message string)

	// OnDisconnect is called each time the connection closes.
	OnDisconnect(c Consumer)

	// OnStopped is called exactly once per Consume, after the consumer has
	// released its connection.
	OnStopped(c Consumer, reason string)
}

// NopHandler implements EventHandler by doing nothing. Embed it to implement
// only the callbacks you care about.
type NopHandler struct{}

func (NopHandler) OnConnect(c Consumer)                                                {}
func (NopHandler) OnInteraction(c Consumer, interaction Interaction, hash string)      {}
func (NopHandler) OnDeleted(c Consumer, interaction Interaction, hash string)          {}
func (NopHandler) OnStatus(c Consumer, statusType string, info map[string]interface{}) {}
func (NopHandler) OnWarning(c Consumer, message string)                                {}
func (NopHandler) OnError(c Consumer, message string)                                  {}
func (NopHandler) OnDisconnect(c Consumer)                                             {}
func (NopHandler) OnStopped(c Consumer, reason string)                                 {}

// MultiHandler is an EventHandler which calls each of its handlers in turn.
type MultiHandler []EventHandler

func (m MultiHandler) OnConnect(c Consumer) {
	for _, h := range m {
		h.OnConnect(c)
	}
}

func (m MultiHandler) OnInteraction(c Consumer, interaction Interaction, hash string) {
	for _, h := range m {
		h.OnInteraction(c, interaction, hash)
	}
}

func (m MultiHandler) OnDeleted(c Consumer, interaction Interaction, hash string) {
	for _, h := range m {
		h.OnDeleted(c, interaction, hash)
	}
}

func (m MultiHandler) OnStatus(c Consumer, statusType string, info map[string]interface{}) {
	for _, h := range m {
		h.OnStatus(c, statusType, info)
	}
}

func (m MultiHandler) OnWarning(c Consumer, message string) {
	for _, h := range m {
		h.OnWarning(c, message)
	}
}

func (m MultiHandler) OnError(c Consumer, message string) {
	for _, h := range m {
		h.OnError(c, message)
	}
}

func (m MultiHandler) OnDisconnect(c Consumer) {
	for _, h := range m {
		h.OnDisconnect(c)
	}
}

func (m MultiHandler) OnStopped(c Consumer, reason string) {
	for _, h := range m {
		h.OnStopped(c, reason)
	}
}

// StatsHandler counts events into a Statter before passing them on to the
// wrapped handler.
type StatsHandler struct {
	EventHandler
	Stats Statter
}

// NewStatsHandler wraps h. A nil h counts without forwarding.
func NewStatsHandler(h EventHandler, stats Statter) *StatsHandler {
	if h == nil {
		h = NopHandler{}
	}
	if stats == nil {
		stats = NopStatter{}
	}
	return &StatsHandler{EventHandler: h, Stats: stats}
}

func (s *StatsHandler) OnConnect(c Consumer) {
	s.Stats.Count("datasift.connect", 1, 1)
	s.EventHandler.OnConnect(c)
}

func (s *StatsHandler) OnInteraction(c Consumer, interaction Interaction, hash string) {
	s.Stats.Count("datasift.interaction", 1, 1, "hash:"+hash)
	s.EventHandler.OnInteraction(c, interaction, hash)
}

func (s *StatsHandler) OnDeleted(c Consumer, interaction Interaction, hash string) {
	s.Stats.Count("datasift.deleted", 1, 1, "hash:"+hash)
	s.EventHandler.OnDeleted(c, interaction, hash)
}

func (s *StatsHandler) OnStatus(c Consumer, statusType string, info map[string]interface{}) {
	s.Stats.Count("datasift.status", 1, 1, "type:"+statusType)
	s.EventHandler.OnStatus(c, statusType, info)
}

func (s *StatsHandler) OnWarning(c Consumer, message string) {
	s.Stats.Count("datasift.warning", 1, 1)
	s.EventHandler.OnWarning(c, message)
}

func (s *StatsHandler) OnError(c Consumer, message string) {
	s.Stats.Count("datasift.error", 1, 1)
	s.EventHandler.OnError(c, message)
}

func (s *StatsHandler) OnDisconnect(c Consumer) {
	s.Stats.Count("datasift.disconnect", 1, 1)
	s.EventHandler.OnDisconnect(c)
}
