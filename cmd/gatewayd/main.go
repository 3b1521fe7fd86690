package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/wechatpay-backend/cmd/flags"
	"github.com/ruteri/wechatpay-backend/cryptoutils"
	"github.com/ruteri/wechatpay-backend/httpserver"
	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/options"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "gatewayd",
		Usage: "WeChat Pay gateway client service",
		Flags: flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve the ops API over the configured gateway client",
				Flags:  flags.ServerFlags,
				Action: runServe,
			},
			{
				Name:   "resolve",
				Usage:  "print the effective options, secrets redacted",
				Flags:  []cli.Flag{flags.TenantFlag},
				Action: runResolve,
			},
			{
				Name:   "certificates",
				Usage:  "download and print the gateway platform certificates",
				Flags:  []cli.Flag{flags.TenantFlag},
				Action: runCertificates,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServe(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	svc, err := bootstrap(cCtx.String(flags.ConfigFlag.Name), logger)
	if err != nil {
		logger.Error("Failed to bootstrap", "err", err)
		return err
	}
	defer svc.module.Close()

	// Blocks until the persisted configuration resolves and the first stack is built.
	if _, err := svc.module.HTTPClients().Client(cCtx.Context, interfaces.HTTPClientName); err != nil {
		logger.Error("Failed to configure gateway client", "err", err)
		return err
	}

	handler := httpserver.NewHandler(svc.module, func() options.TenantOverrides {
		return svc.source.Config().TenantOverrides()
	}, svc.reload, logger)

	cfg := flags.ConfigureServer(cCtx, logger, svc.source.Config().Server)
	server, err := httpserver.New(cfg, handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	server.RunInBackground()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sig)

	logger.Info("Server is running, press Ctrl+C to stop")
	for s := range sig {
		if s == syscall.SIGHUP {
			if err := svc.reload(context.Background()); err != nil {
				logger.Error("Reload failed, keeping previous configuration", "err", err)
			}
			continue
		}
		break
	}
	logger.Info("Shutdown signal received")

	server.Drain()
	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func runResolve(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	svc, err := bootstrap(cCtx.String(flags.ConfigFlag.Name), logger)
	if err != nil {
		return err
	}
	defer svc.module.Close()

	ctx, err := svc.tenantContext(cCtx.Context, cCtx.String(flags.TenantFlag.Name))
	if err != nil {
		return err
	}

	opts, sources, err := svc.module.Resolver().ResolveWithSources(ctx)
	if err != nil {
		return err
	}

	return printJSON(cCtx, map[string]interface{}{
		"options":      opts.Redacted(),
		"sources":      sources,
		"contributors": svc.module.Resolver().Names(),
	})
}

func runCertificates(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	svc, err := bootstrap(cCtx.String(flags.ConfigFlag.Name), logger)
	if err != nil {
		return err
	}
	defer svc.module.Close()

	ctx, err := svc.tenantContext(cCtx.Context, cCtx.String(flags.TenantFlag.Name))
	if err != nil {
		return err
	}

	stack, err := svc.module.Client().Stack(ctx)
	if err != nil {
		return err
	}
	downloader := stack.Downloader()
	if downloader == nil {
		return errors.New("platform certificate download requires api_v3_key and signing.download_platform_certificates")
	}

	certs, err := downloader.Download(ctx)
	if err != nil {
		return err
	}

	out := make([]map[string]interface{}, 0, len(certs))
	for _, cert := range certs {
		out = append(out, map[string]interface{}{
			"serial_no":  cryptoutils.SerialNumberHex(cert),
			"subject":    cert.Subject.String(),
			"not_before": cert.NotBefore,
			"not_after":  cert.NotAfter,
		})
	}
	return printJSON(cCtx, out)
}

func printJSON(cCtx *cli.Context, v interface{}) error {
	enc := json.NewEncoder(cCtx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
