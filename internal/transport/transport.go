// Package transport carries encoded render events between processes.
package transport

// EventSender sends encoded render events.
type EventSender interface {
	SendEvent(data []byte) error
}

// EventReceiver receives encoded render events.
type EventReceiver interface {
	OnEvent(callback func(data []byte))
}
