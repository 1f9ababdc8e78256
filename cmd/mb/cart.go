package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/mschirtzinger/menuboard/internal/db"
	"github.com/mschirtzinger/menuboard/internal/menu"
	"github.com/mschirtzinger/menuboard/internal/ui"
)

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Edit the cart kept in the key-value store",
	Long: `Edit the customer cart stored under the cart-items key.

The cart is shared with every context on the same store and bus, so a page
or 'mb kv watch cart-items' sees changes made here.

Example usage:
  mb menu cart add dal-makhani -n 2
  mb menu cart show --tier takeaway
  mb menu cart rm dal-makhani`,
}

var cartShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cart lines and total",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := cartTier(cmd)
		if err != nil {
			return err
		}
		return withCart(cmd, func(_ *db.DB, cart *menu.Cart) error {
			writeCart(os.Stdout, cart, tier, cfg.Menu.Currency, menuLanguage())
			return nil
		})
	},
}

var cartAddCmd = &cobra.Command{
	Use:   "add <item-id>",
	Short: "Add a menu item to the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, _ := cmd.Flags().GetInt("quantity")
		return withCart(cmd, func(database *db.DB, cart *menu.Cart) error {
			item, err := addToCart(cmd.Context(), database, cart, args[0], qty)
			if err != nil {
				return err
			}
			fmt.Printf("%s Added %s to the cart\n", ui.RenderPass("✓"), item.Name)
			return nil
		})
	},
}

var cartRmCmd = &cobra.Command{
	Use:   "rm <item-id>",
	Short: "Remove an item from the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCart(cmd, func(_ *db.DB, cart *menu.Cart) error {
			cart.Remove(cmd.Context(), args[0])
			fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCart(cmd, func(_ *db.DB, cart *menu.Cart) error {
			cart.Clear(cmd.Context())
			fmt.Printf("%s Cart cleared\n", ui.RenderPass("✓"))
			return nil
		})
	},
}

func init() {
	cartShowCmd.Flags().StringP("tier", "t", string(menu.TierAC), "price tier: ac, non-ac or takeaway")
	cartAddCmd.Flags().IntP("quantity", "n", 1, "quantity to add")
	cartCmd.AddCommand(cartShowCmd, cartAddCmd, cartRmCmd, cartClearCmd)
	menuCmd.AddCommand(cartCmd)
}

func cartTier(cmd *cobra.Command) (menu.Tier, error) {
	s, _ := cmd.Flags().GetString("tier")
	return menu.ParseTier(s)
}

func menuLanguage() language.Tag {
	lang, err := language.Parse(cfg.Menu.Language)
	if err != nil {
		return language.English
	}
	return lang
}

// withCart opens the cart on the configured store for the duration of fn.
func withCart(cmd *cobra.Command, fn func(*db.DB, *menu.Cart) error) error {
	ctx := cmd.Context()
	var cl closers
	defer cl.Close()

	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	cl.add(database)

	store, err := openStore(ctx, database, &cl)
	if err != nil {
		return err
	}
	cart := menu.OpenCart(ctx, store)
	defer cart.Close()
	return fn(database, cart)
}

// addToCart looks id up in the menu and adds qty of it. Unavailable items
// are refused.
func addToCart(ctx context.Context, repo menu.Repository, cart *menu.Cart, id string, qty int) (*menu.Item, error) {
	item, err := repo.MenuItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.Available {
		return nil, fmt.Errorf("%s is not available", item.Name)
	}
	cart.Add(ctx, *item, qty)
	return item, nil
}

func writeCart(w io.Writer, cart *menu.Cart, tier menu.Tier, cur string, lang language.Tag) {
	items := cart.Items()
	if len(items) == 0 {
		fmt.Fprintln(w, "Cart is empty")
		return
	}
	for _, line := range items {
		fmt.Fprintf(w, "  %2d x %-24s %s\n", line.Quantity, line.Name,
			menu.FormatPrice(line.Prices.For(tier)*float64(line.Quantity), cur, lang))
	}
	fmt.Fprintln(w, ui.RenderField("Total", menu.FormatPrice(cart.Total(tier), cur, lang)))
}
