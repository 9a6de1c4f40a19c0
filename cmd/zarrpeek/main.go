package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gracefulearth/zarrpeek"
	"github.com/urfave/cli/v2"
)

// Exit codes per failure stage.
const (
	exitMetadata = 2
	exitSelector = 3
	exitFetch    = 4
	exitTerminal = 5
)

func main() {
	app := &cli.App{
		Name:      "zarrpeek",
		Usage:     "peek into OME-Zarr images in the terminal",
		ArgsUsage: "LOCATION",
		Description: "Renders a 2-D slice of a chunked OME-Zarr array as a sixel bitmap\n" +
			"or ANSI half-block cells. LOCATION is a local directory or an\n" +
			"http(s) URL of the zarr hierarchy root.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "level",
				Aliases: []string{"l"},
				Usage:   "resolution level `PATH` (default: lowest resolution)",
			},
			&cli.StringFlag{
				Name:    "slice",
				Aliases: []string{"s"},
				Usage:   "axis `SELECTORS`, e.g. \"z=12,t=3\" or positional \"3,0\", ranges like \"y=100:400\"",
			},
			&cli.StringFlag{
				Name:    "channels",
				Aliases: []string{"c"},
				Usage:   "channel `INDICES` to composite, e.g. \"0,1,2\"",
			},
			&cli.StringFlag{
				Name:  "range",
				Usage: "explicit display range `LOW:HIGH` instead of autocontrast",
			},
			&cli.Float64Flag{
				Name:  "low",
				Value: zarrpeek.DefaultLowQuantile,
				Usage: "lower autocontrast quantile",
			},
			&cli.Float64Flag{
				Name:  "high",
				Value: zarrpeek.DefaultHighQuantile,
				Usage: "upper autocontrast quantile",
			},
			&cli.IntFlag{
				Name:  "crop-size",
				Value: zarrpeek.DefaultCropSize,
				Usage: "maximum extent `N` to read along each spatial axis",
			},
			&cli.StringFlag{
				Name:  "protocol",
				Value: "auto",
				Usage: "terminal protocol: auto, sixel or cells",
			},
			&cli.IntFlag{
				Name:  "workers",
				Value: zarrpeek.DefaultWorkers,
				Usage: "maximum concurrent chunk fetches",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log pipeline progress to stderr",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.NArg() < 1 {
		cli.ShowAppHelpAndExit(c, 1)
	}

	logger := log.New(io.Discard, "", 0)
	if c.Bool("verbose") {
		logger.SetOutput(os.Stderr)
	}

	opts := zarrpeek.Options{
		Location:     c.Args().First(),
		LevelPath:    c.String("level"),
		LowQuantile:  c.Float64("low"),
		HighQuantile: c.Float64("high"),
		CropSize:     c.Int("crop-size"),
		Workers:      c.Int("workers"),
		Out:          os.Stdout,
		Log:          logger,
	}

	var err error
	if opts.Protocol, err = zarrpeek.ParseProtocol(c.String("protocol")); err != nil {
		return cli.Exit(err.Error(), exitTerminal)
	}
	if opts.Selectors, opts.Positional, err = parseSlice(c.String("slice")); err != nil {
		return exitFor(err)
	}
	if opts.Channels, err = parseIntList(c.String("channels")); err != nil {
		return cli.Exit(fmt.Sprintf("bad channel list: %v", err), exitSelector)
	}
	if opts.Range, err = parseRange(c.String("range")); err != nil {
		return cli.Exit(err.Error(), exitSelector)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := zarrpeek.View(ctx, opts); err != nil {
		return exitFor(err)
	}
	return nil
}

// parseSlice accepts either named selectors ("z=12,t=3") or the bare
// positional form ("3,0") that slices leading axes in order.
func parseSlice(s string) (zarrpeek.AxisSelector, []int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil, nil
	}
	if !strings.Contains(s, "=") {
		positional, err := parseIntList(s)
		if err != nil {
			return nil, nil, fmt.Errorf("bad slice indices: %w", err)
		}
		return nil, positional, nil
	}
	sel, err := zarrpeek.ParseSelectors(s)
	return sel, nil, err
}

func parseIntList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func parseRange(s string) (*zarrpeek.DisplayRange, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	lo, hi, found := strings.Cut(s, ":")
	if !found {
		return nil, fmt.Errorf("display range must look like LOW:HIGH, got %q", s)
	}
	loF, err := strconv.ParseFloat(strings.TrimSpace(lo), 32)
	if err != nil {
		return nil, fmt.Errorf("bad range low %q: %w", lo, err)
	}
	hiF, err := strconv.ParseFloat(strings.TrimSpace(hi), 32)
	if err != nil {
		return nil, fmt.Errorf("bad range high %q: %w", hi, err)
	}
	if hiF <= loF {
		return nil, fmt.Errorf("display range %q is empty or inverted", s)
	}
	return &zarrpeek.DisplayRange{Low: float32(loF), High: float32(hiF)}, nil
}

// exitFor maps pipeline error kinds onto distinct exit codes.
func exitFor(err error) error {
	var (
		metaErr     *zarrpeek.MetadataError
		selectorErr *zarrpeek.SelectorError
		fetchErr    *zarrpeek.FetchError
		decodeErr   *zarrpeek.DecodeError
		termErr     *zarrpeek.TerminalError
	)
	switch {
	case errors.As(err, &metaErr):
		return cli.Exit(err.Error(), exitMetadata)
	case errors.As(err, &selectorErr):
		return cli.Exit(err.Error(), exitSelector)
	case errors.As(err, &fetchErr), errors.As(err, &decodeErr):
		return cli.Exit(err.Error(), exitFetch)
	case errors.As(err, &termErr):
		return cli.Exit(err.Error(), exitTerminal)
	default:
		return cli.Exit(err.Error(), 1)
	}
}
