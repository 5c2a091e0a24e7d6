package commands

// Command to run the miner: one monitor per configured channel until SIGINT/SIGTERM.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kick-miner/internal/clients_api/kick"
	"kick-miner/internal/infra/config"
	logging "kick-miner/internal/infra/log"
	"kick-miner/internal/monitor"
	"kick-miner/internal/notify"
	"kick-miner/internal/telemetry"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor all configured channels and chat while they are live",
	RunE:  runMiner,
}

func init() {
	runCmd.Flags().String("metrics-listen", "", "Address for the /metrics server, e.g. :9100 (env: METRICS_LISTEN)")
	config.AnnotateFlag(runCmd.Flags(), "metrics-listen", "metrics.listen")
}

func runMiner(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		logging.LogError("Failed to load config", zap.Error(err))
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		logging.LogError("Invalid config", zap.Error(err))
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Init(logging.Options{Dir: cfg.Log.Dir, Level: cfg.Log.Level}); err != nil {
		logging.LogWarn("File logging disabled", zap.Error(err))
	}
	defer logging.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	telemetry.Init()
	if cfg.Metrics.Listen != "" {
		go func() {
			logging.LogInfo("Metrics server listening", zap.String("addr", cfg.Metrics.Listen))
			if err := telemetry.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logging.LogError("Metrics server failed", zap.Error(err))
			}
		}()
	}

	client := kick.NewClient(kickOptions(cfg))

	var notifier monitor.Notifier
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logging.LogWarn("Telegram notifier disabled (continuing without it)", zap.Error(err))
		} else {
			notifier = tg
			logging.LogSuccess("Telegram notifier authorized", zap.String("username", tg.Username()))
		}
	}

	supervisor, err := monitor.NewSupervisor(cfg.Channels, cfg.Messages, waitPolicy(cfg), client, notifier)
	if err != nil {
		logging.LogError("Failed to create supervisor", zap.Error(err))
		return err
	}

	return supervisor.Run(ctx)
}

func kickOptions(cfg *config.Config) kick.Options {
	return kick.Options{
		BaseURL:         cfg.Kick.BaseURL,
		Authorization:   cfg.Authorization,
		Timeout:         cfg.RequestTimeout(),
		RateLimit:       cfg.Kick.RateLimit,
		RateBurst:       cfg.Kick.RateBurst,
		MaxRetries:      cfg.Kick.MaxRetries,
		MaxResponseSize: cfg.Kick.MaxResponseSize,
	}
}

func waitPolicy(cfg *config.Config) monitor.WaitPolicy {
	w := cfg.WaitTimes
	return monitor.WaitPolicy{
		ActiveMin: time.Duration(w.LivestreamActive.Min) * time.Second,
		ActiveMax: time.Duration(w.LivestreamActive.Max) * time.Second,
		Inactive:  time.Duration(w.LivestreamInactive) * time.Second,
		Error:     time.Duration(w.ErrorWait) * time.Second,
	}
}
