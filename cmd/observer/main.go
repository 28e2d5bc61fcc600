// Command observer subscribes to a presence service and prints every roster
// it receives, reconnecting with backoff when the connection drops.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/client"
	"github.com/spec-kit/presence-service/internal/config"
	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/observability"
	"github.com/spec-kit/presence-service/internal/realtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		baseURL  string
		token    string
		group    string
		logLevel string
		ping     time.Duration
	)

	flagSet := pflag.NewFlagSet("observer", pflag.ContinueOnError)
	flagSet.StringVar(&baseURL, "url", "http://localhost:8080", "presence service base URL")
	flagSet.StringVar(&token, "token", os.Getenv("PRESENCE_TOKEN"), "bearer token (optional; anonymous when empty)")
	flagSet.StringVar(&group, "group", "", "group to join in addition to the global roster")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level")
	flagSet.DurationVar(&ping, "ping", 25*time.Second, "heartbeat interval")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	logger, err := observability.NewLogger(config.LoggerConfig{Level: logLevel}, config.AppConfig{Name: "presence-observer", Env: "cli"})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Config{
		BaseURL:      baseURL,
		Token:        token,
		Group:        group,
		PingInterval: ping,
	}, logger, printRoster, func(from, to realtime.State) {
		logger.Info("observer state", zap.String("from", from.String()), zap.String("to", to.String()))
		fmt.Fprintf(os.Stderr, "[%s] %s\n", time.Now().Format(time.TimeOnly), to)
	})
	return c.Run(ctx)
}

func printRoster(source client.RosterSource, snapshot domain.RosterSnapshot) {
	fmt.Printf("\n%s roster (%s), %d connected\n", time.Now().Format(time.TimeOnly), source, len(snapshot))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tNAME\tSTATUS\tMINUTES\tDEVICE")
	for _, e := range snapshot {
		device := ""
		if e.DeviceName != nil {
			device = *e.DeviceName
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", e.UserID, e.FullName, e.Status, e.MinutesConnected, device)
	}
	_ = w.Flush()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `observer prints live presence rosters.

Usage:
  observer [flags]

Flags:
%s`, strings.TrimRight(flagSet.FlagUsages(), "\n")+"\n")
}
