package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/menuboard/internal/db"
	"github.com/mschirtzinger/menuboard/internal/menu"
	"github.com/mschirtzinger/menuboard/internal/ui"
)

var menuCmd = &cobra.Command{
	Use:     "menu",
	GroupID: "data",
	Short:   "Inspect and seed the menu database",
}

var menuListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the menu grouped by category",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tierFlag, _ := cmd.Flags().GetString("tier")
		all, _ := cmd.Flags().GetBool("all")
		tier, err := menu.ParseTier(tierFlag)
		if err != nil {
			return err
		}
		lang := menuLanguage()

		return withDatabase(cmd, func(database *db.DB) error {
			items, err := database.ListItems(cmd.Context())
			if err != nil {
				return err
			}
			shown := items[:0]
			for _, it := range items {
				if all || it.Available {
					shown = append(shown, it)
				}
			}
			if len(shown) == 0 {
				fmt.Printf("%s Menu is empty, run 'mb menu seed'\n", ui.RenderWarn("⚠"))
				return nil
			}

			for _, cat := range menu.Group(shown) {
				fmt.Printf("\n%s\n", ui.RenderHeader(cat.Name))
				for _, it := range cat.Items {
					mark := ui.RenderPass("●")
					if !it.Veg {
						mark = ui.RenderFail("●")
					}
					line := fmt.Sprintf("  %s %-24s %s", mark, it.Name,
						menu.FormatPrice(it.Prices.For(tier), cfg.Menu.Currency, lang))
					if !it.Available {
						line += " " + ui.RenderMuted("(unavailable)")
					}
					fmt.Println(line)
				}
			}
			fmt.Println()
			return nil
		})
	},
}

var menuSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the sample menu and offers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, func(database *db.DB) error {
			n, err := menu.Seed(cmd.Context(), database)
			if err != nil {
				return err
			}
			fmt.Printf("%s Seeded %d record(s) into %s\n", ui.RenderPass("✓"), n, database.Path())
			return nil
		})
	},
}

var menuAddAdminCmd = &cobra.Command{
	Use:   "add-admin <email>",
	Short: "Create an admin or reset an admin's password",
	Long: `Create an admin user for the admin API, or reset the password of an
existing one. The password is read from --password or MENUBOARD_ADMIN_PASSWORD.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("MENUBOARD_ADMIN_PASSWORD")
		}
		admin, err := menu.NewAdmin(args[0], password)
		if err != nil {
			return err
		}
		return withDatabase(cmd, func(database *db.DB) error {
			if err := database.SaveAdmin(cmd.Context(), admin); err != nil {
				return err
			}
			fmt.Printf("%s Admin %s saved\n", ui.RenderPass("✓"), admin.Email)
			return nil
		})
	},
}

var menuImportCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Import menu items from a JSONL file",
	Long: `Import menu items, one JSON object per line, replacing items with the
same id. Items failing validation are skipped and reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		// #nosec G304 - controlled path from CLI
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		return withDatabase(cmd, func(database *db.DB) error {
			res, err := menu.ImportJSONL(cmd.Context(), database, f, dryRun)
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				fmt.Printf("  %s %s\n", ui.RenderWarn("⚠"), e)
			}
			verb := "Imported"
			if dryRun {
				verb = "Would import"
			}
			fmt.Printf("%s %s %d item(s), skipped %d\n", ui.RenderPass("✓"), verb, res.Imported, res.Skipped)
			return nil
		})
	},
}

var menuExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every menu item to stdout as JSONL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, func(database *db.DB) error {
			n, err := menu.ExportJSONL(cmd.Context(), database, os.Stdout)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s Exported %d item(s)\n", ui.RenderPass("✓"), n)
			return nil
		})
	},
}

func init() {
	menuImportCmd.Flags().Bool("dry-run", false, "validate without writing")
	menuListCmd.Flags().StringP("tier", "t", string(menu.TierAC), "price tier: ac, non-ac or takeaway")
	menuListCmd.Flags().Bool("all", false, "include unavailable items")
	menuAddAdminCmd.Flags().StringP("password", "p", "", "admin password")

	menuCmd.AddCommand(menuListCmd, menuSeedCmd, menuAddAdminCmd, menuImportCmd, menuExportCmd)
	rootCmd.AddCommand(menuCmd)
}
