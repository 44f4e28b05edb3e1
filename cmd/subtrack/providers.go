package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/subscription-tracker/cmd/api"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/catalog"
)

func providersCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Browse the provider catalog",
		Long:  `List and search the known subscription providers used to name and categorize detected charges.`,
	}
	cmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "provider catalog YAML (default: built-in)")

	cmd.AddCommand(providersListCmd(&catalogPath))
	cmd.AddCommand(providersSearchCmd(&catalogPath))

	return cmd
}

func providersListCmd(catalogPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := api.LoadCatalog(*catalogPath)
			if err != nil {
				return err
			}
			return writeProviders(cmd.OutOrStdout(), cat.Providers())
		},
	}
}

func providersSearchCmd(catalogPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search providers by name",
		Long:  `Search providers by name. Matching is fuzzy, so partial names and small typos still match.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := api.LoadCatalog(*catalogPath)
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			found := cat.Search(query, limit)
			if len(found) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No providers match %q.\n", query)
				return nil
			}
			return writeProviders(cmd.OutOrStdout(), found)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")

	return cmd
}

func writeProviders(out io.Writer, providers []catalog.Provider) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tNOTICE")
	for _, p := range providers {
		notice := "-"
		if p.HasNoticeInfo() {
			notice = p.NoticePeriodInfo
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Category, notice)
	}
	return tw.Flush()
}
