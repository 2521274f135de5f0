package types

// Validator is implemented by entities to self-validate.
type Validator interface {
	Validate() error
}

// ChangeListener receives committed store changes. Implementations must
// not block: notification happens on the mutating goroutine.
type ChangeListener interface {
	StoreChanged(change StoreChange)
}

// ChangeListenerFunc adapts a plain function to ChangeListener.
type ChangeListenerFunc func(change StoreChange)

// StoreChanged calls the wrapped function.
func (f ChangeListenerFunc) StoreChanged(change StoreChange) { f(change) }

// LinkListener receives push link state transitions.
type LinkListener interface {
	LinkChanged(status LinkStatus)
}

// LinkListenerFunc adapts a plain function to LinkListener.
type LinkListenerFunc func(status LinkStatus)

// LinkChanged calls the wrapped function.
func (f LinkListenerFunc) LinkChanged(status LinkStatus) { f(status) }
