package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/filmmate/gatt"
	"github.com/filmmate/gatt/internal/config"
	"github.com/filmmate/gatt/loopback"
)

var (
	flgConfig    = cli.StringFlag{Name: "config, c", Usage: "YAML configuration file"}
	flgLogLevel  = cli.StringFlag{Name: "log-level", EnvVar: "TRIPOD_LOG_LEVEL", Usage: "log level (debug, info, warn, error)"}
	flgLogFormat = cli.StringFlag{Name: "log-format", Usage: "log format (text or json)"}
	flgName      = cli.StringFlag{Name: "name, n", Usage: "advertised device name"}
	flgCount     = cli.IntFlag{Name: "count", Usage: "number of values the demo central writes (0 runs until interrupted)"}
	flgInterval  = cli.DurationFlag{Name: "interval, i", Usage: "delay between demo writes"}
	flgSeed      = cli.Int64Flag{Name: "seed", Usage: "seed of the demo values (0 seeds from the clock)"}
)

func main() {
	app := cli.NewApp()

	app.Name = "tripod"
	app.Usage = "FilmMate Tripod BLE counter peripheral on an in-process stack"
	app.Version = "0.1.0"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{flgConfig, flgLogLevel, flgLogFormat, flgName}

	app.Commands = []cli.Command{
		{
			Name:    "serve",
			Aliases: []string{"sv"},
			Usage:   "Run the peripheral and a demo central writing random values",
			Action:  serve,
			Flags:   []cli.Flag{flgCount, flgInterval, flgSeed},
		},
		{
			Name:    "table",
			Aliases: []string{"t"},
			Usage:   "Print the installed attribute table",
			Action:  table,
		},
		{
			Name:    "adv",
			Aliases: []string{"a"},
			Usage:   "Print the advertising payload",
			Action:  adv,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "tripod: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies the
// command line overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	if c.GlobalIsSet("log-level") {
		cfg.LogLevel = c.GlobalString("log-level")
	}
	if c.GlobalIsSet("log-format") {
		cfg.LogFormat = c.GlobalString("log-format")
	}
	if c.GlobalIsSet("name") {
		cfg.DeviceName = c.GlobalString("name")
	}
	if c.IsSet("count") {
		cfg.Demo.Count = c.Int("count")
	}
	if c.IsSet("interval") {
		cfg.Demo.Interval = c.Duration("interval")
	}
	if c.IsSet("seed") {
		cfg.Demo.Seed = c.Int64("seed")
	}
	return cfg, errors.Wrap(cfg.Validate(), "config")
}

func newLogger(cfg config.Config) (*logrus.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	formatter, err := cfg.Formatter()
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	log.SetFormatter(formatter)
	return log, nil
}

// bringUp boots a peripheral on a loopback stack and waits until the
// attribute table is installed and advertising has started.
func bringUp(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*loopback.Stack, *gatt.Peripheral, error) {
	st := loopback.New(loopback.Options{
		HandleBase: cfg.HandleBase,
		TxPower:    cfg.TxPower,
		Logger:     log,
	})
	p := gatt.NewPeripheral(st, st,
		gatt.AppID(cfg.AppID),
		gatt.Name(cfg.DeviceName),
		gatt.Logger(log),
	)
	go st.Run(ctx)

	if err := gatt.Bootstrap(ctx, st, p); err != nil {
		return nil, nil, err
	}
	for !p.Ready() || p.Adv.State() != gatt.AdvAdvertising {
		select {
		case <-ctx.Done():
			return nil, nil, errors.Wrap(ctx.Err(), "waiting for setup")
		case <-time.After(10 * time.Millisecond):
		}
	}
	return st, p, nil
}

// withSigHandler returns a context canceled on SIGINT or SIGTERM.
func withSigHandler(ctx context.Context, cancel context.CancelFunc) context.Context {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	ctx := withSigHandler(context.WithCancel(context.Background()))

	st, _, err := bringUp(ctx, cfg, log)
	if err != nil {
		return err
	}
	err = runDemo(ctx, st, cfg.DeviceName, cfg.Demo, os.Stdout)
	if errors.Cause(err) == context.Canceled {
		return nil
	}
	return err
}

func table(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, p, err := bringUp(ctx, cfg, log)
	if err != nil {
		return err
	}
	prof := p.Profile()
	base := prof.ServiceHandle.Uint16()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tINDEX\tKIND\tUUID\tPERM\tMAX\tVALUE")
	for i, d := range p.Table() {
		fmt.Fprintf(w, "0x%04x\t%v\t%v\t%v\t%s\t%d\t% x\n",
			base+uint16(i), gatt.TableIndex(i), d.Kind, d.UUID, perm(d.Perm), d.MaxLen, d.Value)
	}
	return w.Flush()
}

func perm(p gatt.Perm) string {
	s := []byte("--")
	if p.Read() {
		s[0] = 'r'
	}
	if p.Write() {
		s[1] = 'w'
	}
	return string(s)
}

func adv(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	pkt, rsp := gatt.EncodeAdvData(cfg.DeviceName, cfg.TxPower, gatt.TripodAdvData(gatt.ServiceUUID))

	var a gatt.Advertisement
	if err := a.Unmarshal(pkt.Data()); err != nil {
		return err
	}
	fmt.Printf("adv      (%2d bytes) % x\n", pkt.Len(), pkt.Data())
	if rsp != nil {
		if err := a.Unmarshal(rsp.Data()); err != nil {
			return err
		}
		fmt.Printf("scan rsp (%2d bytes) % x\n", rsp.Len(), rsp.Data())
	}
	min, max := gatt.DefaultAdvParams().Interval()
	fmt.Printf("name %q, services %v, tx power %d dBm, interval %v-%v\n",
		a.LocalName, a.Services, a.TxPowerLevel, min, max)
	return nil
}
