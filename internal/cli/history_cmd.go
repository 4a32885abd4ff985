package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropwire/dropwire/internal/logger"
	"github.com/dropwire/dropwire/internal/store"
)

var (
	historyDBFlag    string
	historyLimitFlag int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list recent transfers",
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.New()

		db, err := store.NewDB(historyDBFlag)
		if err != nil {
			log.Fatal(err)
			return
		}

		transfers, err := store.NewTransferStore(db).Recent(historyLimitFlag)
		if err != nil {
			log.Fatal(err)
			return
		}
		if len(transfers) == 0 {
			fmt.Println("no transfers recorded")
			return
		}

		for _, t := range transfers {
			when := time.Unix(t.CreatedAt, 0).Format("2006-01-02 15:04:05")
			fmt.Printf("%s  %-7s  %-9s  %10d B  %s (room %s)\n",
				when, t.Direction, t.Status, t.Size, t.Name, t.Room)
		}
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyDBFlag, "db", defaultHistoryDB, "transfer history database path")
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "maximum number of transfers to list")
}
