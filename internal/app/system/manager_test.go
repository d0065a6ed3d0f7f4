package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name    string
	events  *[]string
	failOn  string
	stopped bool
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	if s.failOn == "start" {
		return errors.New("start failed")
	}
	*s.events = append(*s.events, "start:"+s.name)
	return nil
}

func (s *recordingService) Stop(context.Context) error {
	s.stopped = true
	*s.events = append(*s.events, "stop:"+s.name)
	if s.failOn == "stop" {
		return errors.New("stop failed")
	}
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()

	a := &recordingService{name: "a", events: &events}
	b := &recordingService{name: "b", events: &events}
	for _, svc := range []Service{a, b} {
		if err := m.Register(svc); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, events[i], want[i])
		}
	}
}

func TestManagerStartFailureUnwinds(t *testing.T) {
	var events []string
	m := NewManager()

	a := &recordingService{name: "a", events: &events}
	broken := &recordingService{name: "broken", events: &events, failOn: "start"}
	if err := m.Register(a); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(broken); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("start should fail")
	}
	if !a.stopped {
		t.Fatal("already-started services should be stopped on failure")
	}
}

func TestManagerRejectsDuplicatesAndLateRegistration(t *testing.T) {
	m := NewManager()
	if err := m.Register(NoopService{ServiceName: "a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "a"}); err == nil {
		t.Fatal("duplicate name should be rejected")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "b"}); err == nil {
		t.Fatal("registration after start should be rejected")
	}
}

func TestManagerStopReturnsFirstError(t *testing.T) {
	var events []string
	m := NewManager()

	good := &recordingService{name: "good", events: &events}
	bad := &recordingService{name: "bad", events: &events, failOn: "stop"}
	if err := m.Register(good); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(bad); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Stop(context.Background()); err == nil {
		t.Fatal("stop should report the failure")
	}
	if !good.stopped {
		t.Fatal("all services must be stopped even when one fails")
	}
}
