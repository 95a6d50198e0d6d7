package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CodeWithSiya/PyTorrent/peer"
	"github.com/CodeWithSiya/PyTorrent/pkg/config"
	"github.com/CodeWithSiya/PyTorrent/pkg/discovery"
	"github.com/CodeWithSiya/PyTorrent/pkg/logger"
	"github.com/CodeWithSiya/PyTorrent/pkg/storage"

	"github.com/c-bata/go-prompt"
	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"
)

var (
	peerUsername    string
	peerTrackerAddr string
	peerListenAddr  string
	peerDataDir     string
	peerDownloadDir string
	peerConcurrency int
	peerRetryMax    int
	fileToShare     string
	fileToDownload  string
	peerInteractive bool
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Start a peer node (seeder and leecher)",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.Default()
		settings.TrackerAddr = peerTrackerAddr
		settings.TransferAddr = peerListenAddr
		settings.Concurrency = peerConcurrency
		settings.RetryMax = peerRetryMax
		if peerDataDir != "" {
			settings.DataDir = peerDataDir
		}
		if peerDownloadDir != "" {
			settings.DownloadDir = peerDownloadDir
		}

		if settings.TrackerAddr == "" {
			// no tracker configured: look for one on the LAN
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			addr, err := discovery.LookupTracker(ctx)
			if err != nil {
				return fmt.Errorf("no tracker address given and none found via mDNS: %w", err)
			}
			logger.Sugar.Infof("Discovered tracker at %s", addr)
			settings.TrackerAddr = addr
		}

		store, err := storage.Open(settings.DataDir)
		if err != nil {
			return err
		}
		server := peer.NewTransferServer(settings.TransferAddr, store)
		p := peer.New(peerUsername, settings, store, server)
		if err := p.Start(); err != nil {
			return err
		}

		if fileToShare != "" {
			if _, err := p.ShareFile(fileToShare); err != nil {
				logger.Sugar.Errorf("Failed to share file: %v", err)
			}
		}
		if fileToDownload != "" {
			downloadWithProgress(p, fileToDownload)
		}

		if peerInteractive {
			fmt.Println("PyTorrent Peer Interactive Shell")
			fmt.Println("Type 'help' for commands.")
			prompt.New(
				func(in string) { peerExecutor(in, p) },
				peerCompleter,
				prompt.OptionPrefix("peer> "),
				prompt.OptionTitle("PyTorrent Peer"),
			).Run()
		} else {
			select {}
		}
		return nil
	},
}

func peerExecutor(in string, p *peer.Peer) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping peer...")
		if err := p.Stop(); err != nil {
			fmt.Printf("Shutdown reported: %v\n", err)
		}
		os.Exit(0)
	case "status":
		fmt.Println(p.GetStatus())
	case "share":
		if len(blocks) < 2 {
			fmt.Println("Usage: share <file_path>")
			return
		}
		fd, err := p.ShareFile(blocks[1])
		if err != nil {
			fmt.Printf("Error sharing file: %v\n", err)
			return
		}
		fmt.Printf("Sharing %s (ID: %s)\n", fd.Name, fd.Digest)
	case "download":
		if len(blocks) < 2 {
			fmt.Println("Usage: download <file_digest>")
			return
		}
		downloadWithProgress(p, blocks[1])
	case "files":
		files, err := p.Tracker().ListFiles()
		if err != nil {
			fmt.Printf("Error listing files: %v\n", err)
			return
		}
		for _, f := range files {
			fmt.Printf(" - %s (%s) seeders: %d\n", strings.Join(f.Names, ", "), f.Digest, f.Seeders)
		}
	case "peers":
		peers, err := p.Tracker().ListPeers()
		if err != nil {
			fmt.Printf("Error listing peers: %v\n", err)
			return
		}
		for _, info := range peers {
			fmt.Printf(" - %s (%s) at %s\n", info.Username, info.PeerID, info.Addr)
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status              - Show peer status")
		fmt.Println("  share <path>        - Share and seed a local file")
		fmt.Println("  download <digest>   - Download a file by ID")
		fmt.Println("  files               - List files known to the tracker")
		fmt.Println("  peers               - List active peers")
		fmt.Println("  exit                - Stop the peer and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

// downloadWithProgress runs a download and renders its progress events
// as a terminal bar. The core never blocks on this rendering.
func downloadWithProgress(p *peer.Peer, fileDigest string) {
	done := make(chan struct{})
	go func() {
		defer close(done)

		// wait for the session to appear, then follow its events
		var events <-chan peer.ProgressEvent
		for i := 0; i < 100; i++ {
			if events = p.DownloadEvents(fileDigest); events != nil {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if events == nil {
			return
		}

		snap, _ := p.DownloadProgress(fileDigest)
		uiprogress.Start()
		bar := uiprogress.AddBar(snap.TotalChunks).AppendCompleted().PrependElapsed()
		bar.PrependFunc(func(b *uiprogress.Bar) string {
			return fmt.Sprintf("%-20s", snap.FileName)
		})
		for ev := range events {
			switch ev.Kind {
			case peer.EventChunkVerified:
				bar.Incr()
			case peer.EventDownloadFailed:
				fmt.Printf("\nDownload failed: %v\n", ev.Err)
			}
		}
		uiprogress.Stop()
	}()

	path, err := p.Download(context.Background(), fileDigest)
	<-done
	if err != nil {
		fmt.Printf("Error downloading: %v\n", err)
		return
	}
	fmt.Printf("Download complete: %s\n", path)
}

func peerCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show peer status"},
		{Text: "share", Description: "Share a file"},
		{Text: "download", Description: "Download a file"},
		{Text: "files", Description: "List tracked files"},
		{Text: "peers", Description: "List active peers"},
		{Text: "exit", Description: "Exit the peer"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(peerCmd)
	peerCmd.Flags().StringVarP(&peerUsername, "username", "u", "anonymous", "Display name for this peer")
	peerCmd.Flags().StringVarP(&peerTrackerAddr, "tracker", "t", "", "Address of the tracker (empty = discover via mDNS)")
	peerCmd.Flags().StringVarP(&peerListenAddr, "addr", "a", "0.0.0.0:12000", "Address for this peer's transfer server")
	peerCmd.Flags().StringVar(&peerDataDir, "data-dir", "", "Directory for shared chunks and the catalog")
	peerCmd.Flags().StringVar(&peerDownloadDir, "download-dir", "", "Directory for completed downloads")
	peerCmd.Flags().IntVarP(&peerConcurrency, "concurrency", "k", config.DefaultConcurrency, "Max simultaneous chunk fetches")
	peerCmd.Flags().IntVar(&peerRetryMax, "retry-max", config.DefaultRetryMax, "Fetch attempts per chunk before failing")
	peerCmd.Flags().StringVarP(&fileToShare, "share", "s", "", "Path to a file to share immediately")
	peerCmd.Flags().StringVarP(&fileToDownload, "download", "d", "", "File digest to download immediately")
	peerCmd.Flags().BoolVarP(&peerInteractive, "interactive", "i", false, "Start in interactive mode")
}
