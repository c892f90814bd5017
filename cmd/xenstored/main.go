// Command xenstored is the server binary: a Cobra root command wiring
// configuration (Viper), structured logging (zap), the Prometheus metrics
// endpoint, and the service itself.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"xenstore-go/internal/hypervisor"
	"xenstore-go/internal/hypervisor/mmaphv"
	"xenstore-go/internal/hypervisor/simhv"
	"xenstore-go/internal/selftest"
	"xenstore-go/internal/service"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "xenstored",
		Short: "A hypervisor configuration and introspection directory service",
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().Int("max-domains", 1024, "worker-stack slot count (MAX_DOMAINS)")
	root.PersistentFlags().String("metrics-addr", ":9191", "Prometheus metrics listen address")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().Bool("mmap", false, "use the real mmap hypervisor adapter instead of the in-process simulator")
	_ = v.BindPFlags(root.PersistentFlags())

	v.SetEnvPrefix("XENSTORED")
	v.AutomaticEnv()

	root.AddCommand(newRunCmd(v), newSelftestCmd(v), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the xenstored version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	return cfg.Build()
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) (service.Config, *zap.Logger, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return service.Config{}, nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	cfg := service.DefaultConfig()
	cfg.MaxDomains = v.GetInt("max-domains")

	log, err := buildLogger(v.GetString("log-level"))
	if err != nil {
		return service.Config{}, nil, err
	}
	return cfg, log, nil
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the service against the configured hypervisor adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(v, cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := service.New(ctx, cfg, selectHypervisor(v, log), log)
			log.Info("xenstored starting",
				zap.Int("max_domains", cfg.MaxDomains),
				zap.String("metrics_addr", v.GetString("metrics-addr")),
			)

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: v.GetString("metrics-addr"), Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server stopped", zap.Error(err))
				}
			}()

			<-ctx.Done()
			log.Info("xenstored shutting down")
			_ = srv.Close()
			return svc.Shutdown(context.Background())
		},
	}
}

func newSelftestCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Run the in-process guest simulator through scenarios S1-S6",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := loadConfig(v, cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			results := selftest.Run()
			passed, failed := 0, 0
			for _, r := range results {
				if r.Passed {
					fmt.Fprintf(cmd.OutOrStdout(), "[PASS] %s\n", r.Name)
					passed++
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "[FAIL] %s: %s\n", r.Name, r.Reason)
					failed++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "== done: %d passed, %d failed ==\n", passed, failed)
			if failed > 0 {
				return fmt.Errorf("selftest: %d scenario(s) failed", failed)
			}
			return nil
		},
	}
}

func selectHypervisor(v *viper.Viper, log *zap.Logger) hypervisor.Interface {
	if v.GetBool("mmap") {
		log.Info("using mmap hypervisor adapter")
		return mmaphv.New()
	}
	log.Info("using in-process hypervisor simulator")
	return simhv.New()
}
