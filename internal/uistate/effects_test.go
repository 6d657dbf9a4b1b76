package uistate

import "testing"

type actionRecorder struct {
	reloads []string
	resumes []string
	pushes  []bool
}

func (r *actionRecorder) attach(d *Dispatcher) {
	d.On(KindHistoryReloadRequested, func(a Action) {
		r.reloads = append(r.reloads, a.(HistoryReloadRequested).TopicID)
	})
	d.On(KindStreamResumeRequested, func(a Action) {
		r.resumes = append(r.resumes, a.(StreamResumeRequested).TopicID)
	})
	d.On(KindPushSubscribeRequest, func(a Action) {
		r.pushes = append(r.pushes, a.(PushSubscribeRequested).Enabled)
	})
}

func TestReconnectionEffectQuietOnFirstConnect(t *testing.T) {
	d := NewDispatcher()
	s := NewStore(d)
	NewReconnectionEffect(d, s)
	rec := &actionRecorder{}
	rec.attach(d)

	d.Dispatch(HistoryLoaded{TopicID: "t1", Messages: nil})
	d.Dispatch(ConnectionChanged{Status: ConnConnecting})
	d.Dispatch(ConnectionChanged{Status: ConnConnected})

	if len(rec.reloads) != 0 || len(rec.resumes) != 0 {
		t.Errorf("first connect triggered reloads %v, resumes %v", rec.reloads, rec.resumes)
	}
}

func TestReconnectionEffectReloadsAfterReconnect(t *testing.T) {
	d := NewDispatcher()
	s := NewStore(d)
	NewReconnectionEffect(d, s)
	rec := &actionRecorder{}
	rec.attach(d)

	d.Dispatch(ConnectionChanged{Status: ConnConnected})
	d.Dispatch(HistoryLoaded{TopicID: "t1", Messages: nil})
	d.Dispatch(StreamStarted{TopicID: "t2", MessageID: "m1"})
	d.Dispatch(ConnectionChanged{Status: ConnReconnecting, Err: "read timeout"})
	d.Dispatch(ConnectionChanged{Status: ConnConnected})

	if len(rec.reloads) != 1 || rec.reloads[0] != "t1" {
		t.Errorf("reloads = %v, want the loaded topic", rec.reloads)
	}
	if len(rec.resumes) != 1 || rec.resumes[0] != "t2" {
		t.Errorf("resumes = %v, want the streaming topic", rec.resumes)
	}

	// The dispatched intents reduce like any other action.
	st := s.State()
	if st.Messages.Loaded["t1"] {
		t.Error("reload request did not mark the history stale")
	}
	if !st.Streaming.Resuming["t2"] {
		t.Error("resume request did not mark the topic resuming")
	}
}

func TestReconnectionEffectIgnoresRepeatedConnected(t *testing.T) {
	d := NewDispatcher()
	s := NewStore(d)
	NewReconnectionEffect(d, s)
	rec := &actionRecorder{}
	rec.attach(d)

	d.Dispatch(ConnectionChanged{Status: ConnConnected})
	d.Dispatch(HistoryLoaded{TopicID: "t1", Messages: nil})
	d.Dispatch(ConnectionChanged{Status: ConnConnected})

	if len(rec.reloads) != 0 {
		t.Errorf("reloads = %v for a repeated connected status", rec.reloads)
	}
}

func TestReconnectionEffectStop(t *testing.T) {
	d := NewDispatcher()
	s := NewStore(d)
	e := NewReconnectionEffect(d, s)
	rec := &actionRecorder{}
	rec.attach(d)

	d.Dispatch(ConnectionChanged{Status: ConnConnected})
	d.Dispatch(HistoryLoaded{TopicID: "t1", Messages: nil})
	e.Stop()
	d.Dispatch(ConnectionChanged{Status: ConnDisconnected})
	d.Dispatch(ConnectionChanged{Status: ConnConnected})

	if len(rec.reloads) != 0 {
		t.Errorf("stopped effect still dispatched %v", rec.reloads)
	}
}

func TestPushSubscriptionEffect(t *testing.T) {
	d := NewDispatcher()
	NewStore(d)
	NewPushSubscriptionEffect(d)
	rec := &actionRecorder{}
	rec.attach(d)

	d.Dispatch(NotificationsToggled{Enabled: true})
	d.Dispatch(NotificationsToggled{Enabled: false})

	if len(rec.pushes) != 2 || !rec.pushes[0] || rec.pushes[1] {
		t.Errorf("push requests = %v, want [true false]", rec.pushes)
	}
}
