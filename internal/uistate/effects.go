package uistate

import "sync"

// ReconnectionEffect watches connection transitions and, when the link
// comes back after having been up before, asks for history reloads and
// stream resumption on the affected topics. The first successful
// connection stays quiet so a fresh page load does not trigger a
// reload wave. The effect only dispatches actions; the transport layer
// does the fetching.
type ReconnectionEffect struct {
	d     *Dispatcher
	store *Store

	mu          sync.Mutex
	everUp      bool
	lastStatus  ConnectionStatus
	unsubscribe func()
}

// NewReconnectionEffect registers the effect on the dispatcher.
func NewReconnectionEffect(d *Dispatcher, store *Store) *ReconnectionEffect {
	e := &ReconnectionEffect{d: d, store: store, lastStatus: ConnDisconnected}
	e.unsubscribe = d.On(KindConnectionChanged, e.handle)
	return e
}

// Stop unregisters the effect.
func (e *ReconnectionEffect) Stop() {
	e.unsubscribe()
}

func (e *ReconnectionEffect) handle(action Action) {
	a, ok := action.(ConnectionChanged)
	if !ok {
		return
	}

	e.mu.Lock()
	prev := e.lastStatus
	e.lastStatus = a.Status
	if a.Status != ConnConnected || prev == ConnConnected {
		e.mu.Unlock()
		return
	}
	first := !e.everUp
	e.everUp = true
	e.mu.Unlock()

	if first {
		return
	}

	st := e.store.State()
	for topicID := range st.Messages.Loaded {
		e.d.Dispatch(HistoryReloadRequested{TopicID: topicID})
	}
	for topicID := range st.Streaming.Streaming {
		e.d.Dispatch(StreamResumeRequested{TopicID: topicID})
	}
}

// PushSubscriptionEffect turns notification toggles into push
// subscription sync requests for the transport layer.
type PushSubscriptionEffect struct {
	d           *Dispatcher
	unsubscribe func()
}

// NewPushSubscriptionEffect registers the effect on the dispatcher.
func NewPushSubscriptionEffect(d *Dispatcher) *PushSubscriptionEffect {
	e := &PushSubscriptionEffect{d: d}
	e.unsubscribe = d.On(KindNotificationsToggled, e.handle)
	return e
}

// Stop unregisters the effect.
func (e *PushSubscriptionEffect) Stop() {
	e.unsubscribe()
}

func (e *PushSubscriptionEffect) handle(action Action) {
	a, ok := action.(NotificationsToggled)
	if !ok {
		return
	}
	e.d.Dispatch(PushSubscribeRequested{Enabled: a.Enabled})
}
