package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rewired-gh/pricewatch/internal/alerts"
	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/spf13/cobra"
)

const defaultOwner = "cli"

func newAlertsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage price alerts",
		Long:  "Create, inspect, update and delete price alerts. Every command acts on behalf of --owner.",
	}
	cmd.PersistentFlags().String("owner", defaultOwner, "owner the alerts belong to")

	cmd.AddCommand(newAlertsAddCmd(a))
	cmd.AddCommand(newAlertsListCmd(a))
	cmd.AddCommand(newAlertsGetCmd(a))
	cmd.AddCommand(newAlertsUpdateCmd(a))
	cmd.AddCommand(newAlertsDeleteCmd(a))
	return cmd
}

// withService opens the store for the duration of fn.
func (a *app) withService(fn func(ctx context.Context, svc *alerts.Service) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(s)
	return fn(ctx, alerts.NewService(s))
}

func owner(cmd *cobra.Command) string {
	o, _ := cmd.Flags().GetString("owner")
	return o
}

func jsonOutput(cmd *cobra.Command) bool {
	j, _ := cmd.Flags().GetBool("json")
	return j
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printAlerts(cmd *cobra.Command, list []models.Alert) error {
	if jsonOutput(cmd) {
		return writeJSON(cmd, list)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tCONDITION\tTARGET\tTRIGGERED\tCREATED")
	for _, al := range list {
		triggered := "no"
		if al.Triggered && al.TriggeredAt != nil {
			triggered = al.TriggeredAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			al.ID, al.Symbol, al.Condition, al.TargetPrice.StringFixed(2), triggered, al.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func newAlertsAddCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "add SYMBOL GT|LT PRICE",
		Short:   "Create a price alert",
		Example: "  pricewatch alerts add AAPL GT 150.00",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(ctx context.Context, svc *alerts.Service) error {
				alert, err := svc.Create(ctx, owner(cmd), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return printAlerts(cmd, []models.Alert{*alert})
			})
		},
	}
	return cmd
}

func newAlertsListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, _ := cmd.Flags().GetString("symbol")
			return a.withService(func(ctx context.Context, svc *alerts.Service) error {
				var list []models.Alert
				var err error
				if symbol != "" {
					list, err = svc.ListBySymbol(ctx, owner(cmd), symbol)
				} else {
					list, err = svc.List(ctx, owner(cmd))
				}
				if err != nil {
					return err
				}
				return printAlerts(cmd, list)
			})
		},
	}
	cmd.Flags().String("symbol", "", "only list alerts on this symbol")
	return cmd
}

func newAlertsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(ctx context.Context, svc *alerts.Service) error {
				alert, err := svc.Get(ctx, owner(cmd), args[0])
				if err != nil {
					return err
				}
				return printAlerts(cmd, []models.Alert{*alert})
			})
		},
	}
}

func newAlertsUpdateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "update ID",
		Short:   "Change an alert's price, condition or triggered state",
		Example: "  pricewatch alerts update 5f0c... --price 175 --triggered=false",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch alerts.UpdatePatch
			if cmd.Flags().Changed("price") {
				v, _ := cmd.Flags().GetString("price")
				patch.Price = &v
			}
			if cmd.Flags().Changed("condition") {
				v, _ := cmd.Flags().GetString("condition")
				patch.Condition = &v
			}
			if cmd.Flags().Changed("triggered") {
				v, _ := cmd.Flags().GetBool("triggered")
				patch.Triggered = &v
			}

			return a.withService(func(ctx context.Context, svc *alerts.Service) error {
				alert, err := svc.Update(ctx, owner(cmd), args[0], patch)
				if err != nil {
					return err
				}
				return printAlerts(cmd, []models.Alert{*alert})
			})
		},
	}
	cmd.Flags().String("price", "", "new target price")
	cmd.Flags().String("condition", "", "new condition (GT or LT)")
	cmd.Flags().Bool("triggered", false, "set the triggered state; false re-arms the alert")
	return cmd
}

func newAlertsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(ctx context.Context, svc *alerts.Service) error {
				if err := svc.Delete(ctx, owner(cmd), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}
