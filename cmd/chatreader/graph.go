package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatreader/internal/config"
)

func newWatermarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watermark",
		Short: "Print the timestamp of the newest imported message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			g, err := graphOpener(cfg)(cmd.Context())
			if err != nil {
				return err
			}
			defer g.Close(cmd.Context())

			ts, err := g.Watermark(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ts)
			return nil
		},
	}
}

func newRelatedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "related <concept>",
		Short: "List concepts linked to a concept by extracted relations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			g, err := graphOpener(cfg)(cmd.Context())
			if err != nil {
				return err
			}
			defer g.Close(cmd.Context())

			rel, err := g.Related(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rel {
				if r.Outgoing {
					fmt.Fprintf(out, "%s -[%s]-> %s\n", args[0], r.Relation, r.Concept)
				} else {
					fmt.Fprintf(out, "%s -[%s]-> %s\n", r.Concept, r.Relation, args[0])
				}
			}
			return nil
		},
	}
}
