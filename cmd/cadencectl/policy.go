package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	policyCmd := &cobra.Command{Use: "buffer-policy", Short: "Buffer policy operations"}

	getCmd := &cobra.Command{
		Use:   "get USER_ID",
		Short: "Show a user's buffer policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("%s/api/users/%s/buffer-policy", apiFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	policyCmd.AddCommand(getCmd)

	var pre, post, surcharge, max int
	var weekend bool
	setCmd := &cobra.Command{
		Use:   "set USER_ID",
		Short: "Set a user's buffer policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"preMinutes":              pre,
				"postMinutes":             post,
				"meetingSurchargeMinutes": surcharge,
				"weekendBuffering":        weekend,
				"maxBufferMinutes":        max,
			}
			data, err := doJSON("PUT", fmt.Sprintf("%s/api/users/%s/buffer-policy", apiFlag, args[0]), payload)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	setCmd.Flags().IntVar(&pre, "pre", 15, "Pre-event buffer minutes")
	setCmd.Flags().IntVar(&post, "post", 30, "Post-event buffer minutes")
	setCmd.Flags().IntVar(&surcharge, "surcharge", 10, "Meeting surcharge minutes")
	setCmd.Flags().BoolVar(&weekend, "weekend", false, "Apply full buffering on weekends")
	setCmd.Flags().IntVar(&max, "max", 60, "Maximum buffer minutes")
	policyCmd.AddCommand(setCmd)

	rootCmd.AddCommand(policyCmd)
}
