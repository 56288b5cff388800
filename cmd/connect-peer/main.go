// connect-peer is a headless random-connect peer. It joins the same
// queue and signaling channels as the browser clients, terminating the
// media path with pion. Useful for smoke-testing a deployment end to end.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hup-social/connect/config"
	"github.com/hup-social/connect/internal/history"
	"github.com/hup-social/connect/internal/match"
	"github.com/hup-social/connect/internal/models"
	"github.com/hup-social/connect/internal/queue"
	"github.com/hup-social/connect/internal/redisclient"
	"github.com/hup-social/connect/internal/rtc"
	"github.com/hup-social/connect/internal/session"
	sig "github.com/hup-social/connect/internal/signal"
)

func main() {
	var (
		userID   = flag.String("user", "", "peer identity (default: random)")
		intent   = flag.String("intent", "", "search intent tag")
		textOnly = flag.Bool("text", false, "text-only session, no media")
		greeting = flag.String("greeting", "hello from connect-peer", "chat message sent on connect")
	)
	flag.Parse()

	if *userID == "" {
		*userID = "peer-" + uuid.NewString()[:8]
	}

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	rdb, err := redisclient.New(context.Background(), cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	records := history.NewStore(rdb)

	opts := session.Options{
		SelfID:     *userID,
		Intent:     *intent,
		Matchmaker: match.New(queue.NewRedisStore(rdb, logger), cfg.QueueTTL, logger),
		Channel:    sig.NewRedisChannel(rdb, logger),
		NewConn: func(media rtc.Media) (rtc.Conn, error) {
			return rtc.NewPionConn(cfg.ICEServers, media, logger)
		},
		Logger: logger,
	}
	if !*textOnly {
		opts.NewMedia = func() (rtc.Media, error) {
			return rtc.NewSampleMedia(*userID)
		}
	}

	sess := session.New(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	log.Printf("Searching as %s (intent=%q)", *userID, *intent)

	var lastMatch *models.Match

	for {
		select {
		case <-ctx.Done():
			sess.Stop()
			closeRecord(records, lastMatch, sess.MessageCount())
			log.Println("Stopped")
			return

		case event := <-sess.Events():
			switch event.Kind {
			case session.KindStatus:
				log.Printf("Status: %s %s", event.Status, event.Reason)
				switch event.Status {
				case models.StatusMatched:
					lastMatch = event.Match
					// Browser clients get their record from the server
					// bridge; a headless initiator writes its own.
					if lastMatch.IsInitiator {
						err := records.Started(ctx, models.SessionRecord{
							ID:        lastMatch.SessionID,
							User1ID:   *userID,
							User2ID:   lastMatch.PeerID,
							StartedAt: time.Now().UTC(),
						})
						if err != nil {
							log.Printf("Failed to store session record: %v", err)
						}
					}
				case models.StatusConnected:
					if err := sess.SendText(ctx, *greeting); err != nil {
						log.Printf("Chat send failed: %v", err)
					}
				case models.StatusIdle:
					closeRecord(records, lastMatch, 0)
					return
				}
			case session.KindChat:
				log.Printf("Chat from %s: %s", event.Chat.From, event.Chat.Text)
			case session.KindTrack:
				log.Printf("Remote track: %s", event.Track.Kind())
			}
		}
	}
}

func closeRecord(records *history.Store, m *models.Match, messageCount int) {
	if m == nil || !m.IsInitiator {
		return
	}
	if err := records.Ended(context.Background(), m.SessionID, "stop", messageCount); err != nil {
		log.Printf("Failed to close session record: %v", err)
	}
}
