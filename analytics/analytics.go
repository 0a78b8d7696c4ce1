// Package analytics notifies an external sink when users connect or
// disconnect a service.
package analytics

import (
	"context"
	"time"

	"github.com/flow-hydraulics/credential-vault/users"
	log "github.com/sirupsen/logrus"
)

const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Sink receives connection events.
type Sink interface {
	TrackConnected(ctx context.Context, u *users.User, s users.Service) error
	TrackDisconnected(ctx context.Context, u *users.User, s users.Service) error
}

// Event is the payload delivered to a sink.
type Event struct {
	Event     string    `json:"event"`
	UserID    string    `json:"userId"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(name string, u *users.User, s users.Service) Event {
	return Event{Event: name, UserID: u.ID, Service: s.String(), Timestamp: time.Now().UTC()}
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) TrackConnected(ctx context.Context, u *users.User, s users.Service) error {
	return nil
}

func (NopSink) TrackDisconnected(ctx context.Context, u *users.User, s users.Service) error {
	return nil
}

// LogSink writes events to the log.
type LogSink struct{}

func (LogSink) TrackConnected(ctx context.Context, u *users.User, s users.Service) error {
	log.WithFields(log.Fields{"userId": u.ID, "service": s.String()}).Info("User connected service")
	return nil
}

func (LogSink) TrackDisconnected(ctx context.Context, u *users.User, s users.Service) error {
	log.WithFields(log.Fields{"userId": u.ID, "service": s.String()}).Info("User disconnected service")
	return nil
}
