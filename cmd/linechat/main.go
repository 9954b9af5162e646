package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/linechat/application"
	"github.com/lk2023060901/linechat/internal/network/connector"
	"github.com/lk2023060901/linechat/internal/network/eventloop"
	"github.com/lk2023060901/linechat/pkg/log"
	"github.com/lk2023060901/linechat/pkg/metrics"
	"github.com/lk2023060901/linechat/pkg/util/merr"
)

const progName = "linechat"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	_ = log.Sync()
	os.Exit(code)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "%s v%s\n", progName, buildVersion())
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s server <port>\n", progName)
	fmt.Fprintf(w, "  %s client <host> <port>\n", progName)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  --config <path>   config file (default ./linechat.yaml)")
}

// run 是进程入口，返回进程退出码。
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	app := application.New(args)
	if err := app.Init(); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		return 1
	}

	undo, err := maxprocs.Set(maxprocs.Logger(log.S().Debugf))
	if err != nil {
		log.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	defer undo()

	pos := app.Args()
	if len(pos) == 1 && pos[0] == "version" {
		fmt.Fprintln(stdout, buildVersion())
		return 0
	}
	if len(pos) < 2 {
		usage(stderr)
		return 1
	}

	switch pos[0] {
	case "server":
		if len(pos) != 2 {
			fmt.Fprintf(stderr, "Usage: %s server <port>\n", progName)
			return 1
		}
		return runServer(ctx, app, pos[1], stdout, stderr)
	case "client":
		if len(pos) != 3 {
			fmt.Fprintf(stderr, "Usage: %s client <host> <port>\n", progName)
			return 1
		}
		return runClient(ctx, app, pos[1], pos[2], stdin, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown mode '%s'. Use 'server' or 'client'.\n", pos[0])
		return 1
	}
}

func runServer(ctx context.Context, app *application.Application, port string, stdout, stderr io.Writer) int {
	logger := app.Logger("server")

	cfg, err := app.ServerConfig()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		return 1
	}
	srv, err := eventloop.New(net.JoinHostPort("", port), cfg)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		return 1
	}
	srv.SetLogger(logger)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	logger.Info("linechat starting", zap.Stringer("version", buildVersion()), zap.String("port", port))
	fmt.Fprintf(stdout, "Server listening on port %s...\n", port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if addr := app.MetricsAddr(); addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, addr, registry)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		return 1
	}
	return 0
}

func runClient(ctx context.Context, app *application.Application, host, port string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := app.ClientConfig()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		return 1
	}

	c := connector.New(cfg, stdin, stdout, stderr)
	c.SetLogger(app.Logger("client"))
	if err := c.Run(ctx, host, port); err != nil {
		// 用户名相关的错误已由客户端自行提示。
		if !errors.IsAny(err, merr.ErrParameterMissing, merr.ErrParameterInvalid) {
			fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		}
		return 1
	}
	return 0
}
