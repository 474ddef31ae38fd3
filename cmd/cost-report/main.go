package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"energy_billing/internal/billing"
	"energy_billing/internal/config"
	"energy_billing/internal/logging"
	"energy_billing/internal/store"
	"energy_billing/internal/tariff"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type options struct {
	vendor     string
	start      time.Time
	end        time.Time
	meter      string
	daily      bool
	xlsxPath   string
	pdfPath    string
	configPath string
	envFile    string
}

func parseFlags(args []string) (options, error) {
	var (
		o          options
		start, end string
	)
	fs := flag.NewFlagSet("cost-report", flag.ContinueOnError)
	fs.StringVar(&o.vendor, "vendor", "", "tariff vendor to price against")
	fs.StringVar(&start, "start", "", "first day, YYYY-MM-DD")
	fs.StringVar(&end, "end", "", "day after the last billed day, YYYY-MM-DD")
	fs.StringVar(&o.meter, "meter", "", "restrict to one NMI")
	fs.BoolVar(&o.daily, "daily", false, "print per-day usage and solar totals")
	fs.StringVar(&o.xlsxPath, "xlsx", "", "also write the breakdown to this XLSX file")
	fs.StringVar(&o.pdfPath, "pdf", "", "also write the breakdown to this PDF file")
	fs.StringVar(&o.configPath, "config", "", "config file (overrides ENERGY_CONFIG)")
	fs.StringVar(&o.envFile, "env", ".env", "dotenv file for unset variables")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.vendor == "" {
		return o, errors.New("-vendor is required")
	}

	var err error
	if o.start, err = time.Parse(time.DateOnly, start); err != nil {
		return o, fmt.Errorf("-start: %w", err)
	}
	if o.end, err = time.Parse(time.DateOnly, end); err != nil {
		return o, fmt.Errorf("-end: %w", err)
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return fmt.Errorf("loading %s: %w", o.envFile, err)
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogOptions())
	if err != nil {
		return err
	}
	defer logger.Sync()

	tariffs, err := tariff.Load(cfg.TariffsPath)
	if err != nil {
		return err
	}
	policy, err := cfg.DayCountPolicy()
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	engine := billing.New(st, tariffs, billing.WithDayCount(policy), billing.WithLogger(logger))

	var opts []billing.QueryOption
	if o.meter != "" {
		opts = append(opts, billing.ForMeter(o.meter))
		info, err := engine.DeviceInfo(ctx, o.meter)
		switch {
		case errors.Is(err, billing.ErrNoReadings):
			fmt.Fprintf(stdout, "Meter %s: no stored readings\n\n", o.meter)
		case err != nil:
			return err
		default:
			fmt.Fprintf(stdout, "Meter %s: device %s (%s), account %s\n\n",
				info.NMI, info.DeviceNumber, info.DeviceType, info.AccountNumber)
		}
	}

	b, err := engine.CalculateDetailedBreakdown(ctx, o.start, o.end, o.vendor, opts...)
	if err != nil {
		return err
	}
	if err := printTable(stdout, b.Table()); err != nil {
		return err
	}
	if o.daily {
		if err := printDaily(stdout, b.Presented()); err != nil {
			return err
		}
	}

	if o.xlsxPath != "" {
		if err := writeFile(o.xlsxPath, b, billing.WriteXLSX); err != nil {
			return fmt.Errorf("writing XLSX: %w", err)
		}
		fmt.Fprintf(stdout, "wrote %s\n", o.xlsxPath)
	}
	if o.pdfPath != "" {
		if err := writeFile(o.pdfPath, b, billing.WritePDF); err != nil {
			return fmt.Errorf("writing PDF: %w", err)
		}
		fmt.Fprintf(stdout, "wrote %s\n", o.pdfPath)
	}
	return nil
}

func printTable(w io.Writer, t billing.Table) error {
	fmt.Fprintln(w, t.Title)
	fmt.Fprintln(w, t.Subtitle)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, strings.Join(t.Header, "\t")+"\t")
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}
	fmt.Fprintln(tw, strings.Repeat("\t", len(t.Header)))
	gap := strings.Repeat("\t", len(t.Header)-1)
	for _, f := range t.Footer {
		fmt.Fprintln(tw, f.Label+gap+f.Amount+"\t")
	}
	return tw.Flush()
}

func printDaily(w io.Writer, b *billing.CostBreakdown) error {
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Date\tUsage (kWh)\tUsage cost\tSolar (kWh)\tSolar credit\t")
	for _, d := range b.Daily {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
			d.Date.Format(time.DateOnly),
			d.UsageKWh.StringFixed(3),
			d.UsageCost.StringFixed(billing.MoneyPlaces),
			d.SolarKWh.StringFixed(3),
			d.SolarCredit.StringFixed(billing.MoneyPlaces),
		)
	}
	return tw.Flush()
}

func writeFile(path string, b *billing.CostBreakdown, write func(io.Writer, *billing.CostBreakdown) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f, b)
}
