package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"energy_billing/internal/config"
	"energy_billing/internal/ingest"
	"energy_billing/internal/logging"
	"energy_billing/internal/model"
	"energy_billing/internal/store"
)

const dateLayout = "02/01/2006 15:04:05"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type options struct {
	nmi        string
	file       string
	listNMIs   bool
	verbose    bool
	force      bool
	configPath string
	envFile    string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("nem12-import", flag.ContinueOnError)
	fs.StringVar(&o.nmi, "nmi", "", "NMI to import (required unless -force or -list-nmis)")
	fs.StringVar(&o.file, "file", "", "path to the NEM12 file")
	fs.BoolVar(&o.listNMIs, "list-nmis", false, "list the meters and channels in the file and exit")
	fs.BoolVar(&o.verbose, "verbose", false, "debug logging to the console")
	fs.BoolVar(&o.force, "force", false, "import every meter in the file when -nmi is not given")
	fs.StringVar(&o.configPath, "config", "", "config file (overrides ENERGY_CONFIG)")
	fs.StringVar(&o.envFile, "env", ".env", "dotenv file for unset variables")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.file == "" {
		return o, errors.New("-file is required")
	}
	if !o.listNMIs && o.nmi == "" && !o.force {
		return o, errors.New("-nmi is required (use -force to import every meter in the file)")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	if o.listNMIs {
		meters, err := ingest.ListAvailableMeters(o.file)
		if err != nil {
			return err
		}
		printMeters(stdout, o.file, meters)
		return nil
	}

	if err := config.LoadDotEnv(o.envFile); err != nil {
		return fmt.Errorf("loading %s: %w", o.envFile, err)
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	logOpts := cfg.LogOptions()
	if o.verbose {
		logOpts = logging.Options{Level: "debug", Format: logging.FormatConsole}
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	meters, err := ingest.ListAvailableMeters(o.file)
	if err != nil {
		return err
	}
	selected := meters
	if o.nmi != "" {
		selected = nil
		want := model.NormalizeNMI(o.nmi)
		for _, m := range meters {
			if m.NMI == want {
				selected = append(selected, m)
			}
		}
	}

	im := ingest.NewImporter(st,
		ingest.WithLogger(logger),
		ingest.WithDefaults(cfg.IngestDefaults()),
	)

	for _, m := range selected {
		last, found, err := im.LastEntry(ctx, m)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s last stored entry: %s\n", m.NMI, formatLast(last, found))
	}

	res, err := im.Import(ctx, o.file, o.nmi)
	if err != nil {
		if errors.Is(err, ingest.ErrMeterNotFound) {
			fmt.Fprintf(stdout, "no data found for NMI %s; available: %s\n", model.NormalizeNMI(o.nmi), nmiList(meters))
		}
		return err
	}
	logger.Debug("import result", zap.String("batch_id", res.BatchID.String()))

	fmt.Fprintf(stdout, "considered %d rows: appended %d, skipped %d as duplicates\n",
		res.RowsConsidered, res.RowsAppended, res.RowsSkippedAsDuplicate)
	if res.RowsAppended > 0 {
		fmt.Fprintf(stdout, "new data covers %s to %s\n", res.FirstStart.Format(dateLayout), res.LastStart.Format(dateLayout))
	}
	for _, m := range selected {
		last, found, err := im.LastEntry(ctx, m)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s now stored up to: %s\n", m.NMI, formatLast(last, found))
	}
	return nil
}

func printMeters(w io.Writer, path string, meters []model.MeterChannels) {
	fmt.Fprintf(w, "%d meter(s) in %s\n", len(meters), path)
	for _, m := range meters {
		fmt.Fprintf(w, "  %s  channels: %s  registers: %s\n",
			m.NMI, strings.Join(m.Suffixes, ","), strings.Join(m.RegisterCodes, ","))
	}
}

func formatLast(t time.Time, found bool) string {
	if !found {
		return "none"
	}
	return t.Format(dateLayout)
}

func nmiList(meters []model.MeterChannels) string {
	nmis := make([]string, len(meters))
	for i, m := range meters {
		nmis[i] = m.NMI
	}
	return strings.Join(nmis, ", ")
}
