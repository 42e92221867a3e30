package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/slack-go/slack"

	"devstatus/internal/config"
	"devstatus/internal/httpx"
	"devstatus/internal/integrations/athena"
	"devstatus/internal/integrations/llm"
	slackbot "devstatus/internal/integrations/slack"
	"devstatus/internal/inventory"
	"devstatus/internal/run"
	"devstatus/internal/storage/sqlite"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Team=%s Thresholds=%s StatsTables=%d SubmitQueries=%t Catalog=%s Database=%s Timezone=%s Schedule=%q ExternalHTTPTimeout=%s",
		cfg.TeamName,
		cfg.Thresholds,
		len(cfg.StatsTables),
		cfg.SubmitQueries,
		cfg.AthenaCatalog,
		cfg.AthenaDatabase,
		cfg.Timezone,
		cfg.StatusSchedule,
		appliedHTTPTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()

	if cfg.InventoryPath != "" {
		result, err := inventory.ImportFile(db, cfg.InventoryPath)
		if err != nil {
			log.Fatalf("Failed to import inventory %s: %v", cfg.InventoryPath, err)
		}
		log.Printf("Inventory imported devices=%d reports=%d skipped=%d", result.Devices, result.Reports, result.Skipped)
	}

	if err := os.MkdirAll(cfg.ReportOutputDir, 0755); err != nil {
		log.Fatalf("Failed to create report output dir: %v", err)
	}
	log.Printf("Report output dir: %s", cfg.ReportOutputDir)

	runner := run.NewRunner(cfg, db)
	if cfg.SubmitQueries {
		client, err := athena.NewClient(ctx, cfg.AWSRegion, httpx.ExternalHTTPClient())
		if err != nil {
			log.Fatalf("Failed to create Athena client: %v", err)
		}
		runner.Submitter = athena.NewSubmitter(client)
	}
	if cfg.LLMSummaryEnabled {
		runner.Narrator = llm.Summarizer{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.LLMModel,
			HTTPClient: httpx.ExternalHTTPClient(),
		}
	}

	if !cfg.SlackConfigured() {
		if cfg.StatusSchedule == "" {
			log.Println("No Slack and no status_schedule configured, running once")
			if _, err := run.RunAndNotify(ctx, runner, nil); err != nil {
				log.Fatalf("Status run failed: %v", err)
			}
			return
		}
		run.StartScheduler(ctx, runner, nil)
		<-ctx.Done()
		log.Println("Shutting down")
		return
	}

	api := slack.New(
		cfg.SlackBotToken,
		slack.OptionAppLevelToken(cfg.SlackAppToken),
		slack.OptionHTTPClient(httpx.ExternalHTTPClient()),
	)
	run.StartScheduler(ctx, runner, slackbot.ChannelNotifier{API: api, ChannelID: cfg.ReportChannelID})

	log.Println("Starting Device Status Bot...")
	if err := slackbot.StartSlackBot(ctx, runner, api); err != nil && ctx.Err() == nil {
		log.Fatalf("Slack bot error: %v", err)
	}
}
