package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/stage/internal/arranger"
	"github.com/kartikbazzad/bunbase/stage/internal/config"
	"github.com/kartikbazzad/bunbase/stage/internal/gateway"
	"github.com/kartikbazzad/bunbase/stage/internal/handlers"
	"github.com/kartikbazzad/bunbase/stage/internal/server"
	"github.com/kartikbazzad/bunbase/stage/internal/sqon"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "stage",
		Short:         "Stage gateway CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Gateway config file (yaml, json or toml)")
	rootCmd.AddCommand(newComposeCmd(), newSaveSetCmd(), newRoutesCmd())
	return rootCmd
}

type queryFlags struct {
	sqonPath string
	ids      []string
	idsPath  string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sqonPath, "sqon", "", "File holding the current SQON, - for stdin; empty means no filter")
	cmd.Flags().StringSliceVar(&f.ids, "ids", nil, "Object ids to restrict the set to")
	cmd.Flags().StringVar(&f.idsPath, "ids-file", "", "File with one object id per line")
}

// compose reads the flags and returns the composed query.
func (f *queryFlags) compose(stdin io.Reader) (sqon.Node, error) {
	if f.sqonPath == "-" && f.idsPath == "-" {
		return nil, errors.New("--sqon and --ids-file cannot both read stdin")
	}

	current := sqon.MatchAll
	if f.sqonPath != "" {
		data, err := readInput(f.sqonPath, stdin)
		if err != nil {
			return nil, err
		}
		n, err := sqon.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("invalid sqon: %w", err)
		}
		current = n
	}

	ids := append([]string(nil), f.ids...)
	if f.idsPath != "" {
		data, err := readInput(f.idsPath, stdin)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			if id := strings.TrimSpace(line); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return sqon.ComposeSetQuery(current, ids), nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func newComposeCmd() *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Print the SQON a saved set would be created from",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := flags.compose(cmd.InOrStdin())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sqon.Filter{Node: q})
		},
	}
	flags.register(cmd)
	return cmd
}

func newSaveSetCmd() *cobra.Command {
	var flags queryFlags
	var backend string
	cmd := &cobra.Command{
		Use:   "save-set",
		Short: "Compose a SQON and save it as a set on an Arranger backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if backend == "" {
				backend = cfg.Sets.Backend
			}

			table, err := server.BuildTable(cfg)
			if err != nil {
				return err
			}
			route, ok := table.Lookup(backend)
			if !ok {
				return fmt.Errorf("unknown backend %q", backend)
			}
			if !route.Usable() {
				return fmt.Errorf("backend %q: %w", backend, route.OriginErr)
			}

			q, err := flags.compose(cmd.InOrStdin())
			if err != nil {
				return err
			}

			transport := server.TransportOptions(cfg.Upstream)
			transport.RetryAttempts = 0
			savers := handlers.SaversFromTable(table, cfg.Sets.GraphQLPath,
				gateway.NewTransport(transport).Client(cfg.Sets.Timeout),
				arranger.WithSetType(cfg.Sets.Type),
				arranger.WithSetPath(cfg.Sets.Path),
			)

			setID, err := savers[backend].SaveSet(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), setID)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&backend, "backend", "", "Backend to save on; defaults to sets.backend")
	return cmd
}

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the route table the gateway would serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			table, err := server.BuildTable(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPREFIX\tORIGIN\tSTATUS")
			for _, r := range handlers.DescribeRoutes(table) {
				status := "ok"
				if !r.Usable {
					status = r.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Prefix, r.Origin, status)
			}
			return w.Flush()
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}
