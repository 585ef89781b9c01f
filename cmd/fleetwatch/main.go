// fleetwatch is the operator CLI for a netboot fleet server. It keeps a
// local mirror of the fleet through the state sync engine and issues the
// same commands the operator views do.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/bbernstein/netboot-go/internal/config"
	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/fleetio"
	"github.com/bbernstein/netboot-go/internal/services/pubsub"
	"github.com/bbernstein/netboot-go/internal/services/statesync"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	server     string
	adminToken string
	admin      bool
	mode       string
	noGames    bool
	interval   time.Duration
	cfg        *config.ClientConfig
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg := config.LoadClient()
	opts := options{cfg: cfg}

	flagSet := pflag.NewFlagSet("fleetwatch", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVarP(&opts.server, "server", "s", cfg.Server, "fleet server address")
	flagSet.StringVar(&opts.adminToken, "admin-token", os.Getenv("ADMIN_TOKEN"), "token sent with admin power commands")
	flagSet.BoolVar(&opts.admin, "admin", false, "issue power commands in admin mode")
	flagSet.StringVar(&opts.mode, "mode", string(fleetio.ImportModeCreate), "import mode: CREATE, MERGE or REPLACE")
	flagSet.BoolVar(&opts.noGames, "no-games", false, "leave per-cabinet games out of an export")
	flagSet.DurationVar(&opts.interval, "interval", cfg.CabinetPoll, "cabinet poll interval for watch")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(out, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(out, flagSet)
		return nil
	}

	client := statesync.NewClient(opts.server, nil)
	client.SetAdminToken(opts.adminToken)
	engine := statesync.NewEngine(client, pubsub.New())
	defer engine.Close()

	cmd, rest := flagSet.Arg(0), flagSet.Args()[1:]
	switch cmd {
	case "list":
		return list(ctx, engine, out)
	case "watch":
		return watch(ctx, engine, opts, out)
	case "select":
		if len(rest) != 2 {
			return errors.New("usage: select <ip> <file>")
		}
		return selectGame(ctx, engine, rest[0], rest[1], out)
	case "power":
		if len(rest) != 2 || (rest[1] != "on" && rest[1] != "off") {
			return errors.New("usage: power <ip> on|off")
		}
		return power(ctx, engine, rest[0], rest[1] == "on", opts.admin, out)
	case "info":
		if len(rest) != 1 {
			return errors.New("usage: info <ip>")
		}
		return info(ctx, engine, rest[0], out)
	case "export":
		if len(rest) != 1 {
			return errors.New("usage: export <file>")
		}
		return export(ctx, client, rest[0], !opts.noGames, out)
	case "import":
		if len(rest) != 1 {
			return errors.New("usage: import <file>")
		}
		return importFleet(ctx, client, rest[0], fleetio.ImportMode(strings.ToUpper(opts.mode)), out)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func printHelp(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(out, `fleetwatch: operator CLI for a netboot fleet server.

Usage:
  fleetwatch [flags] <command> [args]

Commands:
  list                   print every cabinet
  watch                  print cabinet changes as they are polled
  select <ip> <file>     choose the game a cabinet boots ("" clears it)
  power <ip> on|off      switch a cabinet's outlet
  info <ip>              read firmware info from a cabinet
  export <file>          write the fleet to a YAML file
  import <file>          load cabinets from a YAML file

Flags:
`)
	flagSet.PrintDefaults()
}

func list(ctx context.Context, engine *statesync.Engine, out io.Writer) error {
	if err := engine.Refresh(ctx, statesync.KindCabinets); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tDESCRIPTION\tTARGET\tSTATUS\tPOWER\tGAME")
	for _, c := range engine.Cabinets() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.IP, c.Description, c.Target, statusText(c), c.PowerState, c.Game)
	}
	return tw.Flush()
}

func statusText(c netboot.Cabinet) string {
	if c.Status == netboot.StatusSendGame {
		return fmt.Sprintf("%s %d%%", c.Status, c.Progress)
	}
	return string(c.Status)
}

// watch prints a line whenever a polled cabinet changes status, power or game.
func watch(ctx context.Context, engine *statesync.Engine, opts options, out io.Writer) error {
	task, err := engine.StartPolling(ctx, statesync.KindCabinets, opts.interval)
	if err != nil {
		return err
	}
	defer task.Stop()

	seen := make(map[string]string)
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for {
		for _, c := range engine.Cabinets() {
			line := fmt.Sprintf("%s\t%s\t%s\t%s", statusText(c), c.PowerState, c.Game, c.Description)
			if seen[c.IP] != line {
				seen[c.IP] = line
				fmt.Fprintf(out, "%s %s\t%s\n", time.Now().Format("15:04:05"), c.IP, line)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func selectGame(ctx context.Context, engine *statesync.Engine, ip, file string, out io.Writer) error {
	sel := engine.BeginSelection(ip)
	defer sel.Cancel()

	cab, err := sel.Commit(ctx, file)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s now boots %s (%s)\n", cab.IP, cab.Game, cab.Status)
	return nil
}

func power(ctx context.Context, engine *statesync.Engine, ip string, on, admin bool, out io.Writer) error {
	if err := engine.Refresh(ctx, statesync.KindCabinets); err != nil {
		return err
	}
	engine.SetAdminMode(admin)

	cab, err := engine.SetPower(ctx, ip, on)
	if err != nil {
		if statesync.IsCode(err, "unavailable") || statesync.IsTransport(err) {
			fmt.Fprintf(out, "%s power state is now %s\n", ip, engine.PowerState(ip))
		}
		return err
	}
	fmt.Fprintf(out, "%s power is %s\n", cab.IP, cab.PowerState)
	return nil
}

func info(ctx context.Context, engine *statesync.Engine, ip string, out io.Writer) error {
	if err := engine.Refresh(ctx, statesync.KindCabinets); err != nil {
		return err
	}
	inf, err := engine.QueryInfo(ctx, ip)
	if err != nil {
		return err
	}
	if !inf.Available {
		fmt.Fprintf(out, "%s did not answer\n", ip)
		return nil
	}
	fmt.Fprintf(out, "firmware %s, %d MB DIMM, %d MB available for games\n", inf.Version, inf.MemSize, inf.MemAvail)
	return nil
}

func export(ctx context.Context, client *statesync.Client, file string, games bool, out io.Writer) error {
	doc, stats, err := fleetio.Export(ctx, client, fleetio.ExportOptions{
		IncludeGames:  games,
		IncludeOutlet: true,
		Description:   "exported from " + client.BaseURL(),
	})
	if err != nil {
		return err
	}
	if err := doc.Save(file); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d cabinets to %s\n", stats.Cabinets, file)
	return nil
}

func importFleet(ctx context.Context, client *statesync.Client, file string, mode fleetio.ImportMode, out io.Writer) error {
	doc, err := fleetio.Load(file)
	if err != nil {
		return err
	}
	stats, warnings, err := fleetio.Import(ctx, client, doc, fleetio.ImportOptions{Mode: mode})
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created %d, updated %d, skipped %d, removed %d\n",
		stats.Created, stats.Updated, stats.Skipped, stats.Removed)
	return nil
}
