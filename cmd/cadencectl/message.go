package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	var userFlag string
	sendCmd := &cobra.Command{
		Use:   "send TEXT...",
		Short: "Send a message to the assistant as a user and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			payload := map[string]string{
				"fromUserId": userFlag,
				"text":       strings.Join(args, " "),
			}
			data, err := doJSON("POST", fmt.Sprintf("%s/api/messages/inbound", apiFlag), payload)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	sendCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User ID (required)")
	_ = sendCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(sendCmd)
}
