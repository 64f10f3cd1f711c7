package testutil

import (
	"context"
	"sync"
)

// Notification is one recorded notification.
type Notification struct {
	Title string
	Body  string
}

// RecordingNotifier records every notification it is asked to show.
type RecordingNotifier struct {
	mu  sync.Mutex
	got []Notification
}

func (r *RecordingNotifier) Notify(_ context.Context, title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, Notification{Title: title, Body: body})
}

// Notifications returns a copy of everything recorded so far.
func (r *RecordingNotifier) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.got...)
}
