package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"nathy/internal/services/memory"
)

func newFactsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Inspect or erase what Nathy remembers about a user",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list <user_id>",
		Short: "Print remembered facts as JSON, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMemory(cmd.Context(), c.cfg.Memory, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			facts, err := store.Facts(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if facts == nil {
				facts = []memory.Fact{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(facts)
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 0, "maximum facts to print (0 = all)")

	forget := &cobra.Command{
		Use:   "forget <user_id>",
		Short: "Delete every remembered fact of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMemory(cmd.Context(), c.cfg.Memory, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Forget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %d facts about %s\n", n, args[0])
			return nil
		},
	}

	cmd.AddCommand(list, forget)
	return cmd
}
