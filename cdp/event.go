package cdp

import (
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
)

// subscriptionBuffer is the number of events a subscriber may lag behind
// before further events are dropped for it.
const subscriptionBuffer = 64

// Event is a decoded CDP event.
type Event struct {
	Name      cdproto.MethodType
	SessionID target.SessionID
	Data      interface{}
}

type subscription struct {
	sessionID target.SessionID
	events    map[cdproto.MethodType]struct{}
	ch        chan *Event
}

func (s *subscription) matches(sessionID target.SessionID, name cdproto.MethodType) bool {
	if s.sessionID != sessionID {
		return false
	}
	_, ok := s.events[name]
	return ok
}

type eventWatcher struct {
	subsMu sync.RWMutex
	nextID int64
	subs   map[int64]*subscription
}

func newEventWatcher() *eventWatcher {
	return &eventWatcher{
		subs: make(map[int64]*subscription),
	}
}

// subscribe returns a channel receiving the given events of the session
// and a function that unsubscribes and closes the channel.
func (w *eventWatcher) subscribe(
	sessionID target.SessionID, events ...cdproto.MethodType,
) (<-chan *Event, func()) {
	sub := &subscription{
		sessionID: sessionID,
		events:    make(map[cdproto.MethodType]struct{}, len(events)),
		ch:        make(chan *Event, subscriptionBuffer),
	}
	for _, evt := range events {
		sub.events[evt] = struct{}{}
	}

	w.subsMu.Lock()
	w.nextID++
	id := w.nextID
	w.subs[id] = sub
	w.subsMu.Unlock()

	cancel := func() {
		w.subsMu.Lock()
		defer w.subsMu.Unlock()
		if _, ok := w.subs[id]; !ok {
			return
		}
		delete(w.subs, id)
		close(sub.ch)
	}

	return sub.ch, cancel
}

// wants reports whether anybody listens for the event.
func (w *eventWatcher) wants(sessionID target.SessionID, name cdproto.MethodType) bool {
	w.subsMu.RLock()
	defer w.subsMu.RUnlock()
	for _, sub := range w.subs {
		if sub.matches(sessionID, name) {
			return true
		}
	}
	return false
}

// notify fans evt out to matching subscribers without blocking. It returns
// the number of subscribers that missed the event because their buffer
// was full.
func (w *eventWatcher) notify(evt *Event) (dropped int) {
	w.subsMu.RLock()
	defer w.subsMu.RUnlock()
	for _, sub := range w.subs {
		if !sub.matches(evt.SessionID, evt.Name) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			dropped++
		}
	}
	return dropped
}

// closeAll unsubscribes everybody.
func (w *eventWatcher) closeAll() {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for id, sub := range w.subs {
		delete(w.subs, id)
		close(sub.ch)
	}
}
