package cmd

import (
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/audio/device"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		devices, err := device.List()
		if err != nil {
			printError("list devices", err)
			return err
		}
		out := cmd.OutOrStdout()
		for _, d := range devices {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-40s %-12s %d ch  %.0f Hz\n", marker, d.Name, d.HostAPI, d.MaxInputChannels, d.DefaultSampleRate)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
