package uistate

import (
	"testing"
)

func TestDispatcherRoutesByKind(t *testing.T) {
	d := NewDispatcher()
	var selected, deleted int
	d.On(KindTopicSelected, func(Action) { selected++ })
	d.On(KindTopicDeleted, func(Action) { deleted++ })

	d.Dispatch(TopicSelected{TopicID: "t1"})
	d.Dispatch(TopicSelected{TopicID: "t2"})

	if selected != 2 || deleted != 0 {
		t.Errorf("selected = %d, deleted = %d; want 2, 0", selected, deleted)
	}
}

func TestDispatcherMultipleHandlersPerKind(t *testing.T) {
	d := NewDispatcher()
	var a, b int
	d.On(KindTopicSelected, func(Action) { a++ })
	d.On(KindTopicSelected, func(Action) { b++ })

	d.Dispatch(TopicSelected{TopicID: "t1"})
	if a != 1 || b != 1 {
		t.Errorf("handlers saw %d, %d dispatches; want 1, 1", a, b)
	}
}

func TestDispatcherAllHandlersRunFirst(t *testing.T) {
	d := NewDispatcher()
	var order []string
	d.On(KindTopicSelected, func(Action) { order = append(order, "kind") })
	d.OnAll(func(Action) { order = append(order, "all") })

	d.Dispatch(TopicSelected{TopicID: "t1"})
	if len(order) != 2 || order[0] != "all" || order[1] != "kind" {
		t.Errorf("handler order = %v, want all before kind", order)
	}
}

func TestDispatcherNestedDispatchRunsAfterCurrent(t *testing.T) {
	d := NewDispatcher()
	var order []string
	d.On(KindTopicSelected, func(Action) {
		order = append(order, "selected-handler")
		d.Dispatch(TopicDeleted{TopicID: "t1"})
		order = append(order, "selected-done")
	})
	d.On(KindTopicDeleted, func(Action) { order = append(order, "deleted-handler") })

	d.Dispatch(TopicSelected{TopicID: "t1"})

	want := []string{"selected-handler", "selected-done", "deleted-handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDispatcherUnregister(t *testing.T) {
	d := NewDispatcher()
	var count int
	off := d.On(KindTopicSelected, func(Action) { count++ })

	d.Dispatch(TopicSelected{TopicID: "t1"})
	off()
	d.Dispatch(TopicSelected{TopicID: "t2"})

	if count != 1 {
		t.Errorf("count = %d after unregister, want 1", count)
	}
}

func TestDispatcherIgnoresNil(t *testing.T) {
	d := NewDispatcher()
	d.OnAll(func(Action) { t.Error("handler ran for nil action") })
	d.Dispatch(nil)
}
