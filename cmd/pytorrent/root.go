package main

import (
	"os"

	"github.com/CodeWithSiya/PyTorrent/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pytorrent",
	Short: "PyTorrent peer-to-peer file sharing",
	Long:  `Peers register with a central tracker, discover who seeds what, and exchange files chunk by chunk with integrity verification.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
