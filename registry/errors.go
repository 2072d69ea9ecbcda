package registry

import "errors"

var (
	// ErrClosed is returned by Install once the registry has been closed
	ErrClosed = errors.New("registry: closed")
	// ErrNilBackend is returned by New without a backend
	ErrNilBackend = errors.New("registry: backend cannot be nil")
	// ErrPluginPanic wraps a panic raised by plugin code while attaching
	ErrPluginPanic = errors.New("registry: plugin code panicked")
)
