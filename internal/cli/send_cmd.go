package cli

import (
	"context"
	"fmt"
	"mime"
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
	sendRelayFlag string
	sendRoomFlag  string
	sendPlainFlag bool
	sendDBFlag    string
)

var sendCmd = &cobra.Command{
	Use:   "send file-path",
	Short: "send a file to a peer",
	Long:  `send a file: joins a relay room, prints the room code for the receiver, and beams the file over a direct encrypted channel`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.New()
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runSend(ctx, log, args[0]); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendRelayFlag, "relay", relay.DefaultAddr, "relay server address")
	sendCmd.Flags().StringVar(&sendRoomFlag, "room", "", "room code (generated when empty)")
	sendCmd.Flags().BoolVar(&sendPlainFlag, "plain", false, "skip key exchange and send unencrypted")
	sendCmd.Flags().StringVar(&sendDBFlag, "db", defaultHistoryDB, "transfer history database path")
}

func runSend(ctx context.Context, log *logrus.Logger, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	fileType := mime.TypeByExtension(filepath.Ext(name))
	if fileType == "" {
		fileType = "application/octet-stream"
	}

	room := sendRoomFlag
	if room == "" {
		room = newRoomCode()
	}

	rc, err := relay.Dial(relay.ClientConfig{Addr: sendRelayFlag, Logger: log})
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	peerPresent, err := rc.Join(ctx, room)
	if err != nil {
		return err
	}
	fmt.Printf("room code: %s\n", room)
	if !peerPresent {
		fmt.Println("waiting for the receiver to join...")
		if err := rc.WaitPeer(ctx); err != nil {
			return err
		}
	}

	conn, err := webrtc.NewConnector(webrtc.Config{Logger: log})
	if err != nil {
		return err
	}
	sess := session.New(conn, session.Options{Logger: log})
	defer sess.Disconnect()

	offer, err := sess.CreateOffer(ctx)
	if err != nil {
		return err
	}
	// Key before offer: the receiver needs both at AcceptOffer time and
	// the relay preserves order.
	if !sendPlainFlag {
		if err := rc.Send(relay.SignalPubKey, offer.PublicKey); err != nil {
			return err
		}
	}
	if err := rc.Send(relay.SignalOffer, offer.SDP); err != nil {
		return err
	}

	answer, peerKey, err := awaitAnswer(ctx, rc.Signals())
	if err != nil {
		return err
	}
	if err := sess.AcceptAnswer(ctx, answer, peerKey); err != nil {
		return err
	}

	log.Info("waiting for the data channel to open")
	if err := sess.WaitOpen(ctx); err != nil {
		return err
	}

	result, err := sess.Calibrate(ctx)
	if err != nil {
		return err
	}
	log.Infof("link calibrated: chunk=%d KiB bandwidth=%.1f MB/s",
		result.Config.ChunkSize/1024, result.Config.EffectiveBandwidth/1e6)

	var bar *progressbar.ProgressBar
	unsubscribe := sess.SubscribeProgress(func(ev session.FileEvent) {
		if ev.Direction != session.DirectionSend {
			return
		}
		switch ev.Status {
		case session.StatusPending:
			bar = transferBar("sending", ev)
		case session.StatusTransferring, session.StatusCompleted:
			if bar != nil {
				_ = bar.Set64(barBytes(ev))
			}
		}
	})
	defer unsubscribe()

	start := time.Now()
	status := "completed"
	id, err := sess.SendFile(ctx, session.FileInfo{
		Name:     name,
		Size:     stat.Size(),
		FileType: fileType,
	}, file)
	if err != nil {
		status = "error"
	}

	recordHistory(log, sendDBFlag, store.Transfer{
		TransferID: id,
		Room:       room,
		Name:       name,
		Size:       stat.Size(),
		FileType:   fileType,
		Direction:  "send",
		Status:     status,
		Bandwidth:  result.Config.EffectiveBandwidth,
		Duration:   durationMillis(start),
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nsent %s (%d bytes)\n", name, stat.Size())
	return nil
}
