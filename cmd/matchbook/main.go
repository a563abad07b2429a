// matchbook is the command line client: place, cancel and query against
// a running exchange, plus a bench mode for load runs.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"matchbook/client"
	"matchbook/wire"
)

type options struct {
	host       string
	port       int
	instrument string
	side       string
	price      int64
	quantity   int64
	command    string
	orderID    uint64
	depth      uint32
	chart      bool
	csv        bool
	timeout    time.Duration
}

func (o *options) addr() string {
	return fmt.Sprintf("%s:%d", o.host, o.port)
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:           "matchbook",
		Short:         "exchange client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.command {
			case "place":
				return runPlace(opts)
			case "cancel":
				return runCancel(opts)
			case "query":
				return runQuery(opts)
			default:
				return fmt.Errorf("unknown command %q, want place, cancel or query", opts.command)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.host, "host", "127.0.0.1", "server host")
	pf.IntVar(&opts.port, "port", 7400, "server port")
	pf.StringVar(&opts.instrument, "instrument", "", "instrument symbol")
	pf.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	f := root.Flags()
	f.StringVar(&opts.command, "command", "", "place|cancel|query")
	f.StringVar(&opts.side, "side", "", "buy|sell")
	f.Int64Var(&opts.price, "price", 0, "limit price, fixed-point integer")
	f.Int64Var(&opts.quantity, "quantity", 0, "order quantity")
	f.Uint64Var(&opts.orderID, "order-id", 0, "order to cancel")
	f.Uint32Var(&opts.depth, "depth", 10, "snapshot depth per side")
	f.BoolVar(&opts.chart, "chart", false, "render the snapshot as a price-level chart")
	f.BoolVar(&opts.csv, "csv", false, "emit snapshot levels as csv")

	bench := &cobra.Command{
		Use:   "bench",
		Short: "run a latency benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, opts)
		},
	}
	bf := bench.Flags()
	bf.Int("requests", 1000, "requests per worker")
	bf.Int("concurrency", 4, "concurrent connections")
	bf.Int("warmup", 50, "unmeasured warm-up requests per worker")
	bf.Duration("interval", 0, "pause between requests")
	bf.String("latency-csv", "", "write per-request latencies to this file")
	root.AddCommand(bench)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func connect(opts *options) (*client.Client, error) {
	if opts.instrument == "" {
		return nil, fmt.Errorf("--instrument is required")
	}
	return client.Dial(opts.addr(), opts.timeout)
}

func runPlace(opts *options) error {
	var side uint8
	switch opts.side {
	case "buy":
		side = wire.SideBuy
	case "sell":
		side = wire.SideSell
	default:
		return fmt.Errorf("--side must be buy or sell, got %q", opts.side)
	}

	c, err := connect(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	ack, err := c.Place(opts.instrument, side, opts.price, opts.quantity)
	if err != nil {
		return err
	}
	fmt.Printf("order %d %s filled=%d\n", ack.OrderID, ack.Status, ack.Filled)
	return nil
}

func runCancel(opts *options) error {
	if opts.orderID == 0 {
		return fmt.Errorf("--order-id is required")
	}
	c, err := connect(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	ack, err := c.Cancel(opts.instrument, opts.orderID)
	if err != nil {
		return err
	}
	fmt.Printf("order %d %s\n", ack.OrderID, ack.Status)
	return nil
}

func runQuery(opts *options) error {
	c, err := connect(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	snap, err := c.Snapshot(opts.instrument, opts.depth)
	if err != nil {
		return err
	}
	if opts.csv {
		client.RenderCSV(os.Stdout, snap)
		return nil
	}
	client.RenderSnapshot(os.Stdout, snap, opts.chart)
	return nil
}

func runBench(cmd *cobra.Command, opts *options) error {
	if opts.instrument == "" {
		return fmt.Errorf("--instrument is required")
	}
	requests, _ := cmd.Flags().GetInt("requests")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	warmup, _ := cmd.Flags().GetInt("warmup")
	interval, _ := cmd.Flags().GetDuration("interval")
	csvPath, _ := cmd.Flags().GetString("latency-csv")

	res, err := client.RunBench(client.BenchConfig{
		Addr:        opts.addr(),
		Instrument:  opts.instrument,
		Requests:    requests,
		Concurrency: concurrency,
		Warmup:      warmup,
		Interval:    interval,
		Timeout:     opts.timeout,
	})
	if err != nil {
		return err
	}
	res.Report(os.Stdout)

	if csvPath != "" {
		f, err := os.Create(csvPath)
		if err != nil {
			return err
		}
		defer f.Close()
		res.WriteCSV(f)
	}
	return nil
}
