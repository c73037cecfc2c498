package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/richxcame/storefront/internal/currency"
	"github.com/richxcame/storefront/pkg/httpclient"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newRatesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Show the exchange rates the storefront is serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := a.client().Get(cmd.Context(), currency.RatesPath, nil)
			if err != nil {
				return fmt.Errorf("failed to fetch rates: %w", err)
			}

			var resp currency.RatesResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("unexpected response from server: %w", err)
			}
			if a.v.GetBool("json") {
				return writeJSON(a.out, resp)
			}

			table, err := resp.ToTable()
			if err != nil {
				return fmt.Errorf("server returned an unusable rate table: %w", err)
			}
			printTable(a.out, table)
			fmt.Fprintf(a.out, "\nlast updated %s%s\n", resp.LastUpdated, flags(resp.Cached, resp.Fallback))
			if resp.Error != "" {
				fmt.Fprintf(a.out, "warning: %s\n", resp.Error)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the raw response")
	return cmd
}

func newSetRatesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-rates CODE=RATE...",
		Short: "Override exchange rates on the server",
		Example: `  fxctl set-rates USD=0.0013 EUR=0.0012 --admin-key $ADMIN_KEY
  FXCTL_ADMIN_KEY=... fxctl set-rates GBP=0.00098`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rates, err := parseRateArgs(args)
			if err != nil {
				return err
			}

			body, err := a.client().Post(cmd.Context(), currency.RatesPath, map[string]interface{}{
				"rates":    rates,
				"adminKey": a.v.GetString("admin-key"),
			}, nil)
			if err != nil {
				return describeOverrideError(err)
			}

			var resp currency.RatesResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("unexpected response from server: %w", err)
			}
			table, err := resp.ToTable()
			if err != nil {
				return fmt.Errorf("server returned an unusable rate table: %w", err)
			}
			fmt.Fprintln(a.out, "rates updated")
			printTable(a.out, table)
			return nil
		},
	}
	cmd.Flags().String("admin-key", "", "admin key (or FXCTL_ADMIN_KEY)")
	return cmd
}

func parseRateArgs(args []string) (map[string]float64, error) {
	rates := make(map[string]float64, len(args))
	for _, arg := range args {
		code, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected CODE=RATE, got %q", arg)
		}
		parsed, known := currency.ParseCode(code)
		if !known {
			return nil, fmt.Errorf("unsupported currency %q", code)
		}
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %q", parsed, value)
		}
		rates[string(parsed)] = rate
	}
	return rates, nil
}

func describeOverrideError(err error) error {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusUnauthorized:
			return errors.New("admin key rejected")
		case http.StatusBadRequest:
			return errors.New("server rejected the rates as invalid")
		}
	}
	return fmt.Errorf("failed to set rates: %w", err)
}

func newFormatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "format AMOUNT",
		Short: "Render a base-currency amount in the display currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[0])
			}

			engine, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}

			snap := engine.Snapshot()
			target := snap.Current
			if code := a.v.GetString("currency"); code != "" {
				parsed, ok := currency.ParseCode(code)
				if !ok {
					return fmt.Errorf("unsupported currency %q", code)
				}
				for _, c := range snap.Currencies {
					if c.Code == parsed {
						target = c
					}
				}
			}

			fmt.Fprintln(a.out, currency.Format(currency.Convert(amount, target.Rate), target))
			if snap.Degraded {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: rates may be outdated")
			}
			return nil
		},
	}
	cmd.Flags().String("currency", "", "display currency for this call only")
	return cmd
}

func newUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use CODE",
		Short: "Change and persist the display currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			if !engine.ChangeCurrency(cmd.Context(), args[0]) {
				return fmt.Errorf("unsupported currency %q (supported: %s)", args[0], supportedCodes())
			}
			c := engine.Current()
			fmt.Fprintf(a.out, "display currency set to %s (%s)\n", c.Code, c.Symbol)
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh rates periodically and print every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, err := a.newEngine(ctx, currency.WithRefreshInterval(a.v.GetDuration("interval")))
			if err != nil {
				return err
			}
			return watch(ctx, a.out, engine, a.v.GetInt("updates"))
		},
	}
	cmd.Flags().Duration("interval", currency.DefaultRefreshInterval, "refresh interval")
	cmd.Flags().Int("updates", 0, "exit after this many updates (0 runs until interrupted)")
	return cmd
}

func watch(ctx context.Context, out io.Writer, engine *currency.Engine, limit int) error {
	updates := engine.Subscribe()
	printSnapshot(out, engine.Snapshot())

	for seen := 0; limit <= 0 || seen < limit; seen++ {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			printSnapshot(out, snap)
		}
	}
	return nil
}

func printTable(out io.Writer, table currency.RateTable) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tSYMBOL\tNAME\tRATE")
	for _, c := range table.Currencies() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Code, c.Symbol, c.Name, c.Rate)
	}
	_ = w.Flush()
}

func printSnapshot(out io.Writer, snap currency.Snapshot) {
	status := ""
	if snap.IsFallback {
		status += " [fallback]"
	}
	if snap.Degraded {
		status += " [degraded]"
	}
	rates := make([]string, 0, len(snap.Currencies))
	for _, c := range snap.Currencies {
		rates = append(rates, fmt.Sprintf("%s=%s", c.Code, c.Rate))
	}
	fmt.Fprintf(out, "%s display=%s %s%s\n",
		snap.LastUpdated.UTC().Format(time.RFC3339), snap.Current.Code, strings.Join(rates, " "), status)
}

func flags(cached, fallback bool) string {
	var parts []string
	if cached {
		parts = append(parts, "cached")
	}
	if fallback {
		parts = append(parts, "fallback")
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func supportedCodes() string {
	codes := currency.Codes()
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return strings.Join(out, ", ")
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
