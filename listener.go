package realtime

// Listener receives dispatched events. Implementations must be comparable, since the registry
// identifies a listener by equality; pointer receivers are the usual choice.
type Listener interface {
	OnEvent(Event)
}

type funcListener struct {
	fn func(Event)
}

func (l *funcListener) OnEvent(ev Event) { l.fn(ev) }

// ListenerFunc wraps fn in a listener with pointer identity. Keep the returned value to remove it later.
func ListenerFunc(fn func(Event)) Listener {
	return &funcListener{fn: fn}
}

type typedListener[T Event] struct {
	fn func(T)
}

func (l *typedListener[T]) OnEvent(ev Event) {
	if v, ok := ev.(T); ok {
		l.fn(v)
	}
}

// On builds a listener that only sees events of type T, e.g. On(func(s SystemStatus) {...}).
func On[T Event](fn func(T)) Listener {
	return &typedListener[T]{fn: fn}
}
