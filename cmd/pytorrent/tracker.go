package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CodeWithSiya/PyTorrent/pkg/logger"
	"github.com/CodeWithSiya/PyTorrent/tracker"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

var (
	trackerAddr        string
	trackerMaxPeers    int
	trackerLiveness    time.Duration
	trackerAdvertise   bool
	trackerInteractive bool
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Start the tracker (central peer directory)",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Sugar.Infof("Starting tracker on %s", trackerAddr)

		registry := tracker.NewRegistry(trackerLiveness, trackerMaxPeers)
		server := tracker.NewServer(trackerAddr, registry, trackerAdvertise)

		if trackerInteractive {
			go func() {
				if err := server.Start(); err != nil {
					logger.Sugar.Error("Error starting tracker: ", err)
					os.Exit(1)
				}
			}()

			fmt.Println("PyTorrent Tracker Interactive Shell")
			fmt.Println("Type 'help' for commands.")
			prompt.New(
				func(in string) { trackerExecutor(in, server, registry) },
				trackerCompleter,
				prompt.OptionPrefix("tracker> "),
				prompt.OptionTitle("PyTorrent Tracker"),
			).Run()
		} else {
			if err := server.Start(); err != nil {
				logger.Sugar.Error("Error starting tracker: ", err)
				os.Exit(1)
			}
		}
	},
}

func trackerExecutor(in string, server *tracker.Server, registry *tracker.Registry) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping tracker...")
		server.Stop()
		os.Exit(0)
	case "peers":
		peers := registry.ListPeers()
		fmt.Printf("Active peers: %d\n", len(peers))
		for _, p := range peers {
			fmt.Printf(" - %s (%s) at %s, %d files\n", p.Username, p.PeerID, p.Addr, len(p.Files))
		}
	case "files":
		files := registry.ListFiles()
		fmt.Printf("Registered files: %d\n", len(files))
		for _, f := range files {
			fmt.Printf(" - %s (%s) seeders: %d\n", strings.Join(f.Names, ", "), f.Digest, f.Seeders)
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  peers  - List active peers")
		fmt.Println("  files  - List registered files")
		fmt.Println("  exit   - Stop the tracker and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func trackerCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "peers", Description: "List active peers"},
		{Text: "files", Description: "List registered files"},
		{Text: "exit", Description: "Stop the tracker"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(trackerCmd)
	trackerCmd.Flags().StringVarP(&trackerAddr, "addr", "a", "0.0.0.0:55555", "UDP address for the tracker to listen on")
	trackerCmd.Flags().IntVar(&trackerMaxPeers, "max-peers", 0, "Maximum registered peers (0 = unlimited)")
	trackerCmd.Flags().DurationVar(&trackerLiveness, "liveness", 30*time.Second, "Time without a heartbeat before a peer is dropped")
	trackerCmd.Flags().BoolVar(&trackerAdvertise, "advertise", true, "Advertise the tracker over mDNS")
	trackerCmd.Flags().BoolVarP(&trackerInteractive, "interactive", "i", false, "Start in interactive mode")
}
