package session

import "github.com/tessro/avctl/internal/core"

const eventBufferSize = 16

// StateChange reports a session state transition.
type StateChange struct {
	Previous core.SessionState
	Current  core.SessionState
	Snapshot core.Snapshot
}

// FaultEvent reports that the session faulted.
type FaultEvent struct {
	Reason   string
	Snapshot core.Snapshot
}

// Subscription provides event channels for a subscriber.
type Subscription struct {
	StateChanged <-chan StateChange
	Faults       <-chan FaultEvent
	Done         <-chan struct{}

	stateCh chan StateChange
	faultCh chan FaultEvent
	doneCh  chan struct{}
}

func newSubscription() *Subscription {
	sub := &Subscription{
		stateCh: make(chan StateChange, eventBufferSize),
		faultCh: make(chan FaultEvent, eventBufferSize),
		doneCh:  make(chan struct{}),
	}
	sub.StateChanged = sub.stateCh
	sub.Faults = sub.faultCh
	sub.Done = sub.doneCh
	return sub
}

func (sub *Subscription) close() {
	close(sub.doneCh)
}

// Subscribe returns a new subscription. Events are dropped when its
// buffers are full. A closed session returns an already-done subscription.
func (s *Session) Subscribe() *Subscription {
	sub := newSubscription()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.close()
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscription and signals its Done channel.
func (s *Session) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		sub.close()
	}
}

func (s *Session) notifyLocked(prev core.SessionState) {
	if len(s.subs) == 0 {
		return
	}
	e := StateChange{Previous: prev, Current: s.state, Snapshot: s.snapshotLocked()}
	for sub := range s.subs {
		select {
		case sub.stateCh <- e:
		default:
			s.stats.DroppedNotify++
		}
	}
}

func (s *Session) notifyFaultLocked(reason string) {
	if len(s.subs) == 0 {
		return
	}
	e := FaultEvent{Reason: reason, Snapshot: s.snapshotLocked()}
	for sub := range s.subs {
		select {
		case sub.faultCh <- e:
		default:
			s.stats.DroppedNotify++
		}
	}
}
