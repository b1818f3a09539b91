package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/devblac/chain-statement/internal/config"
	"github.com/devblac/chain-statement/internal/export"
	"github.com/devblac/chain-statement/internal/fetcher"
	"github.com/devblac/chain-statement/internal/filter"
	"github.com/devblac/chain-statement/internal/metrics"
	"github.com/devblac/chain-statement/internal/provider"
	"github.com/devblac/chain-statement/internal/storage"
	"github.com/devblac/chain-statement/internal/transfer"
)

const emptyMessage = "No transactions found - try increasing the block range"

var (
	flagFormat     string
	flagOut        string
	flagWhere      []string
	flagCategories []string
	flagNoEnrich   bool
	flagNoExport   bool
)

func init() {
	fetchCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "Export format: csv, json, sqlite or pdf (default from config, else csv)")
	fetchCmd.Flags().StringVarP(&flagOut, "out", "o", "", "Export path (default <export.dir>/<wallet>_transaction_history.<ext>)")
	fetchCmd.Flags().StringArrayVarP(&flagWhere, "where", "w", nil, "Record filter, e.g. 'amount >= ether(1)' (repeatable, all must match)")
	fetchCmd.Flags().StringSliceVar(&flagCategories, "categories", nil, "Categories to fetch (default all)")
	fetchCmd.Flags().BoolVar(&flagNoEnrich, "no-enrich", false, "Skip token metadata enrichment")
	fetchCmd.Flags().BoolVar(&flagNoExport, "no-export", false, "Print the report only")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <wallet>",
	Short: "Fetch a wallet's transfer history and export it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(cmd)
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		wallet, err := parseWallet(args[0])
		if err != nil {
			return err
		}
		categories, err := transfer.ParseCategories(flagCategories)
		if err != nil {
			return err
		}
		preds, err := filter.Compile(flagWhere)
		if err != nil {
			return err
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		format, err := exportFormat(flagFormat, cfg.Export.Format)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg, log, metrics.Init())
		if err != nil {
			return err
		}
		defer a.Close()

		started := time.Now().UTC()
		res, err := a.orchestrator.Fetch(ctx, wallet, categories...)
		if err != nil && !errors.Is(err, transfer.ErrAllCategoriesFailed) {
			return err
		}
		printStatuses(out, res.Statuses)
		if err != nil {
			return err
		}

		records := res.Records
		if !flagNoEnrich {
			records = transfer.Enrich(records, a.resolver.MetadataFunc(ctx))
		}
		records = filter.Apply(records, preds)
		res.Records = records

		if len(records) == 0 {
			fmt.Fprintln(out, emptyMessage)
			return nil
		}
		fmt.Fprintf(out, "%d transfers\n", len(records))
		if flagNoExport {
			return nil
		}

		report := export.NewReport(res, started, time.Now().UTC())
		path := flagOut
		if path == "" {
			path = export.DefaultPath(cfg.Export.Dir, res.Wallet, format)
		}
		if err := export.ToFile(ctx, format, path, report); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", path)

		notify(cmd, cfg, log, report.Summary(path))
		return nil
	},
}

func parseWallet(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid wallet address %q", s)
	}
	return common.HexToAddress(s), nil
}

func exportFormat(flag, fromConfig string) (export.Format, error) {
	if flag != "" {
		return export.ParseFormat(flag)
	}
	return export.ParseFormat(fromConfig)
}

type statusRow struct {
	category transfer.Category
	provider string
	records  int
	err      string
}

func printStatuses(w io.Writer, statuses []fetcher.Status) {
	rows := make([]statusRow, len(statuses))
	for i, s := range statuses {
		rows[i] = statusRow{category: s.Category, provider: s.Provider, records: s.Records}
		if s.Err != nil {
			rows[i].err = s.Err.Error()
		}
	}
	printRows(w, rows)
}

func printOutcomes(w io.Writer, outcomes []storage.CategoryOutcome) {
	rows := make([]statusRow, len(outcomes))
	for i, o := range outcomes {
		rows[i] = statusRow{category: o.Category, provider: o.Provider, records: o.Records, err: o.Error}
	}
	printRows(w, rows)
}

func printRows(w io.Writer, rows []statusRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tPROVIDER\tRECORDS\tSTATUS")
	for _, r := range rows {
		state := "ok"
		if r.err != "" {
			state = r.err
		}
		prov := r.provider
		if prov == "" {
			prov = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.category, prov, r.records, state)
	}
	_ = tw.Flush()
}

// notify sends the run summary when a webhook is configured. Delivery failures
// do not fail the fetch.
func notify(cmd *cobra.Command, cfg *config.Config, log *slog.Logger, s export.Summary) {
	if cfg.Export.WebhookURL == "" {
		return
	}
	hook, err := export.NewWebhook(cfg.Export.WebhookURL, cfg.Export.Template,
		provider.NewHTTPClient(provider.WithHTTPTimeout(cfg.Chain.RequestTimeout)))
	if err != nil {
		log.Warn("webhook disabled", "err", err)
		return
	}
	if err := hook.Notify(cmd.Context(), s); err != nil {
		log.Warn("webhook delivery failed", "err", err)
	}
}
