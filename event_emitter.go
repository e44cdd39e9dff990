package realtime

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// listenerRegistry maps event names to a set of listeners. It outlives connections: subscriptions
// survive Disconnect and a later Connect.
type listenerRegistry struct {
	listeners map[EventName][]Listener
	lock      sync.RWMutex
	logger    logger
}

func newListenerRegistry(logger logger) *listenerRegistry {
	return &listenerRegistry{
		listeners: make(map[EventName][]Listener),
		logger:    logger.WithField("component", "listener_registry"),
	}
}

// On registers listener for event. Registering a listener twice for the same event is a no-op.
// It reports whether the listener was added.
func (r *listenerRegistry) On(event EventName, listener Listener) bool {
	if listener == nil {
		return false
	}
	if !reflect.TypeOf(listener).Comparable() {
		r.logger.Errorf("refusing non-comparable listener %T for %s", listener, event)
		return false
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	for _, l := range r.listeners[event] {
		if l == listener {
			return false
		}
	}
	r.listeners[event] = append(r.listeners[event], listener)
	return true
}

// Off removes exactly listener from event. Unknown listeners and events are ignored.
func (r *listenerRegistry) Off(event EventName, listener Listener) {
	if listener == nil || !reflect.TypeOf(listener).Comparable() {
		return
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	current := r.listeners[event]
	for i, l := range current {
		if l != listener {
			continue
		}
		next := make([]Listener, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(r.listeners, event)
		} else {
			r.listeners[event] = next
		}
		return
	}
}

// Len returns how many listeners are registered for event.
func (r *listenerRegistry) Len(event EventName) int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.listeners[event])
}

// Emit invokes every listener registered for the event's name, in registration order, and returns
// how many completed without panicking. Listeners run outside the lock so they may subscribe or
// unsubscribe from within a callback; such changes apply to the next Emit.
func (r *listenerRegistry) Emit(ev Event) int {
	name := ev.Name()

	r.lock.RLock()
	listeners := r.listeners[name]
	r.lock.RUnlock()

	if len(listeners) == 0 {
		r.logger.Debugf("no listeners for %s, dropping", name)
		return 0
	}

	delivered := 0
	for _, listener := range listeners {
		if err := r.invoke(listener, ev); err != nil {
			r.logger.Errorf("listener %T failed on %s: %s", listener, name, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *listenerRegistry) invoke(listener Listener, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("panic: %v", rec)
		}
	}()

	listener.OnEvent(ev)
	return nil
}
