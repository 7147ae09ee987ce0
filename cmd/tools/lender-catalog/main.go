// cmd/tools/lender-catalog/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"funding-engine/internal/common/config"
	"funding-engine/internal/common/database"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/registry"
	"funding-engine/pkg/catalog"

	"github.com/spf13/cobra"
)

var catalogPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "lender-catalog",
		Short: "Maintain the lender catalog and seed it into postgres",
	}
	rootCmd.PersistentFlags().StringVar(&catalogPath, "path", "configs/lender-catalog.json", "Path to catalog file")

	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(activateCmd(true))
	rootCmd.AddCommand(activateCmd(false))
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addCmd() *cobra.Command {
	var entry catalog.Entry
	var categories string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a lender to the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.LoadOrNew(catalogPath)
			if err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}
			entry.FundingCategories = splitList(categories)
			if err := c.Add(entry); err != nil {
				return err
			}
			if err := c.Save(catalogPath); err != nil {
				return err
			}
			fmt.Printf("Added lender: %s\n", entry.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&entry.ID, "id", "", "Lender ID")
	cmd.Flags().StringVar(&entry.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&entry.Type, "type", "", "Lender type (direct-line, staged-credit, sandbox)")
	cmd.Flags().StringVar(&categories, "categories", "", "Comma-separated funding categories")
	cmd.Flags().IntVar(&entry.Priority, "priority", 100, "Ordering priority, lower first")
	cmd.Flags().BoolVar(&entry.IsActive, "active", true, "Whether the lender receives submissions")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("categories")

	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog lenders",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.Load(catalogPath)
			if err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tACTIVE\tPRIORITY\tCATEGORIES")
			for _, e := range c.Lenders {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
					e.ID, e.Name, e.Type, e.IsActive, e.Priority, strings.Join(e.FundingCategories, ","))
			}
			return w.Flush()
		},
	}
}

func activateCmd(active bool) *cobra.Command {
	use, short := "enable [id]", "Mark a lender active"
	if !active {
		use, short = "disable [id]", "Mark a lender inactive"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.Load(catalogPath)
			if err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}
			if err := c.SetActive(args[0], active); err != nil {
				return err
			}
			if err := c.Save(catalogPath); err != nil {
				return err
			}
			fmt.Printf("Lender %s active=%t\n", args[0], active)
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.Load(catalogPath)
			if err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}
			if err := c.Validate(); err != nil {
				return fmt.Errorf("catalog validation failed: %w", err)
			}
			fmt.Printf("Catalog validation passed. Found %d lenders.\n", len(c.Lenders))
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert the catalog into the lenders table and drop cached eligibility",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.Load(catalogPath)
			if err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}
			if err := c.Validate(); err != nil {
				return fmt.Errorf("catalog validation failed: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			pg, err := database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return fmt.Errorf("failed to connect to postgres: %w", err)
			}
			defer pg.Close()

			n, err := catalog.Seed(ctx, pg.GetDB(), c)
			if err != nil {
				return err
			}

			if rc, err := database.NewRedis(cfg.Database.Redis); err != nil {
				log.Warn("redis unavailable, cached eligibility expires on its own", map[string]interface{}{
					"error": err.Error(),
				})
			} else {
				defer rc.Close()
				reg := registry.New(&registry.Config{}, pg.GetDB(), rc.GetClient(), log)
				if err := reg.Invalidate(ctx, c.FundingTypes()...); err != nil {
					log.Warn("failed to invalidate lender cache", map[string]interface{}{"error": err.Error()})
				}
			}

			fmt.Printf("Seeded %d lenders.\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Seed timeout")
	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
