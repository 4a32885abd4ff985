package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dropwire/dropwire/internal/logger"
	"github.com/dropwire/dropwire/internal/relay"
	"github.com/dropwire/dropwire/internal/session"
	"github.com/dropwire/dropwire/internal/store"
	"github.com/dropwire/dropwire/internal/transport/webrtc"
)

var (
	receiveRelayFlag string
	receiveOutFlag   string
	receiveDBFlag    string
)

var receiveCmd = &cobra.Command{
	Use:   "receive room-code",
	Short: "receive a file from a peer",
	Long:  `receive a file: joins the sender's relay room by code and writes the transferred file to the output directory`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.New()
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runReceive(ctx, log, args[0]); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	receiveCmd.Flags().StringVar(&receiveRelayFlag, "relay", relay.DefaultAddr, "relay server address")
	receiveCmd.Flags().StringVar(&receiveOutFlag, "out", ".", "output directory")
	receiveCmd.Flags().StringVar(&receiveDBFlag, "db", defaultHistoryDB, "transfer history database path")
}

func runReceive(ctx context.Context, log *logrus.Logger, room string) error {
	rc, err := relay.Dial(relay.ClientConfig{Addr: receiveRelayFlag, Logger: log})
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if _, err := rc.Join(ctx, room); err != nil {
		return err
	}

	offer, peerKey, err := awaitOffer(ctx, rc.Signals())
	if err != nil {
		return err
	}

	conn, err := webrtc.NewConnector(webrtc.Config{Logger: log})
	if err != nil {
		return err
	}
	sess := session.New(conn, session.Options{Logger: log})
	defer sess.Disconnect()

	answer, err := sess.AcceptOffer(ctx, offer, peerKey)
	if err != nil {
		return err
	}
	if answer.PublicKey != "" {
		if err := rc.Send(relay.SignalPubKey, answer.PublicKey); err != nil {
			return err
		}
	}
	if err := rc.Send(relay.SignalAnswer, answer.SDP); err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	done := make(chan session.FileEvent, 1)
	unsubscribe := sess.SubscribeProgress(func(ev session.FileEvent) {
		if ev.Direction != session.DirectionReceive {
			return
		}
		switch ev.Status {
		case session.StatusPending:
			bar = transferBar("receiving", ev)
		case session.StatusTransferring:
			if bar != nil {
				_ = bar.Set64(barBytes(ev))
			}
		case session.StatusCompleted, session.StatusError:
			if bar != nil && ev.Status == session.StatusCompleted {
				_ = bar.Set64(ev.Size)
			}
			select {
			case done <- ev:
			default:
			}
		}
	})
	defer unsubscribe()

	log.Info("waiting for the data channel to open")
	if err := sess.WaitOpen(ctx); err != nil {
		return err
	}

	start := time.Now()
	var final session.FileEvent
	select {
	case final = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	status := string(final.Status)
	var outPath string
	if final.Status == session.StatusCompleted {
		outPath = filepath.Join(receiveOutFlag, filepath.Base(final.Name))
		if err := os.WriteFile(outPath, final.Payload, 0o644); err != nil {
			return fmt.Errorf("write received file: %w", err)
		}
	}

	recordHistory(log, receiveDBFlag, store.Transfer{
		TransferID: final.ID,
		Room:       room,
		Name:       final.Name,
		Size:       final.Size,
		FileType:   final.FileType,
		Direction:  "receive",
		Status:     status,
		Bandwidth:  sess.Config().EffectiveBandwidth,
		Duration:   durationMillis(start),
	})

	if final.Status != session.StatusCompleted {
		return fmt.Errorf("transfer failed: %s", final.Reason)
	}
	fmt.Printf("\nreceived %s (%d bytes) -> %s\n", final.Name, final.Size, outPath)
	return nil
}
