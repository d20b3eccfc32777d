package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	convCmd := &cobra.Command{Use: "conversation", Short: "Conversation operations"}

	showCmd := &cobra.Command{
		Use:   "show USER_ID",
		Short: "Show a user's active conversation and recent turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("%s/api/users/%s/conversation", apiFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	convCmd.AddCommand(showCmd)
	rootCmd.AddCommand(convCmd)
}
