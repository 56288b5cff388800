// Package handlers wires the HTTP and WebSocket surface of the
// random-connect service.
package handlers

import (
	"context"

	"github.com/hup-social/connect/config"
	"github.com/hup-social/connect/internal/match"
	"github.com/hup-social/connect/internal/models"
	"github.com/hup-social/connect/internal/signal"
)

// HistoryStore is the session record store. Production uses
// history.Store on Redis; tests use an in-memory fake.
type HistoryStore interface {
	Started(ctx context.Context, record models.SessionRecord) error
	Ended(ctx context.Context, id, reason string, messageCount int) error
	Get(ctx context.Context, id string) (*models.SessionRecord, error)
}

// API bundles the dependencies the handlers need. Everything is injected
// by main; handlers hold no package-level state.
type API struct {
	Config     *config.Config
	Matchmaker *match.Matchmaker
	Channel    signal.Channel
	History    HistoryStore
}
