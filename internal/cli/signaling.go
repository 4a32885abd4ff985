package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/dropwire/dropwire/internal/relay"
	"github.com/dropwire/dropwire/internal/session"
	"github.com/dropwire/dropwire/internal/store"
)

const defaultHistoryDB = "dropwire-history.sqlite3"

// awaitOffer drains the signal feed until the offer blob arrives. The
// sender puts its public key on the wire before the offer, so by the
// time the offer shows up the key (if any) has been seen.
func awaitOffer(ctx context.Context, signals <-chan relay.Signal) (offer, pubKey string, err error) {
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return "", "", relay.ErrRelayClosed
			}
			switch sig.Kind {
			case relay.SignalPubKey:
				pubKey = sig.Payload
			case relay.SignalOffer:
				return sig.Payload, pubKey, nil
			}
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

// awaitAnswer mirrors awaitOffer for the offering side.
func awaitAnswer(ctx context.Context, signals <-chan relay.Signal) (answer, pubKey string, err error) {
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return "", "", relay.ErrRelayClosed
			}
			switch sig.Kind {
			case relay.SignalPubKey:
				pubKey = sig.Payload
			case relay.SignalAnswer:
				return sig.Payload, pubKey, nil
			}
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

func newRoomCode() string {
	return strings.Split(uuid.NewString(), "-")[0]
}

// transferBar renders one file's progress from the session feed.
func transferBar(verb string, ev session.FileEvent) *progressbar.ProgressBar {
	return progressbar.DefaultBytes(ev.Size, fmt.Sprintf("%s %s", verb, ev.Name))
}

func barBytes(ev session.FileEvent) int64 {
	return ev.Size * int64(ev.Progress) / 100
}

// recordHistory persists one transfer row. History failures are logged,
// never fatal to the transfer itself.
func recordHistory(log *logrus.Logger, dbPath string, record store.Transfer) {
	db, err := store.NewDB(dbPath)
	if err != nil {
		log.Warnf("history database unavailable: %v", err)
		return
	}
	if err := store.NewTransferStore(db).Create(&record); err != nil {
		log.Warnf("failed to record transfer history: %v", err)
	}
}

func durationMillis(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
