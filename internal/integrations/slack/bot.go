package slackbot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"devstatus/internal/domain"
	"devstatus/internal/report"
	"devstatus/internal/run"
	"devstatus/internal/storage/sqlite"
)

// ChannelNotifier posts run summaries to a fixed channel.
type ChannelNotifier struct {
	API       *slack.Client
	ChannelID string
}

func (n ChannelNotifier) Notify(ctx context.Context, text string) error {
	if n.ChannelID == "" {
		return nil
	}
	_, _, err := n.API.PostMessageContext(ctx, n.ChannelID, slack.MsgOptionText(text, false))
	return err
}

func StartSlackBot(ctx context.Context, runner *run.Runner, api *slack.Client) error {
	client := socketmode.New(api)
	notifier := ChannelNotifier{API: api, ChannelID: runner.Cfg.ReportChannelID}

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Printf("Slash command received: %s from user=%s channel=%s", cmd.Command, cmd.UserID, cmd.ChannelID)
				go handleSlashCommand(ctx, api, runner, notifier, cmd)
			}
		}
	}()

	log.Println("Slack bot connected via Socket Mode")
	return client.RunContext(ctx)
}

func handleSlashCommand(ctx context.Context, api *slack.Client, runner *run.Runner, notifier run.Notifier, cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/device-status":
		handleDeviceStatus(api, runner, cmd)
	case "/status-run":
		handleStatusRun(ctx, api, runner, notifier, cmd)
	case "/status-queries":
		handleStatusQueries(ctx, api, runner, cmd)
	case "/status-history":
		handleStatusHistory(api, runner, cmd)
	case "/status-help":
		postEphemeral(api, cmd, helpText(runner.Cfg.TeamName))
	}
}

type statusArgs struct {
	GroupID       string
	ReferenceDate civil.Date
}

// parseStatusArgs accepts "[group] [YYYY-MM-DD]" in either order.
func parseStatusArgs(text string) (statusArgs, error) {
	var args statusArgs
	for _, field := range strings.Fields(text) {
		if d, err := civil.ParseDate(field); err == nil {
			if args.ReferenceDate != (civil.Date{}) {
				return args, fmt.Errorf("more than one date given")
			}
			args.ReferenceDate = d
			continue
		}
		if args.GroupID != "" {
			return args, fmt.Errorf("more than one group given")
		}
		args.GroupID = field
	}
	return args, nil
}

func handleDeviceStatus(api *slack.Client, runner *run.Runner, cmd slack.SlashCommand) {
	args, err := parseStatusArgs(cmd.Text)
	if err != nil {
		postEphemeral(api, cmd, fmt.Sprintf("Usage: `/device-status [group] [YYYY-MM-DD]` (%v)", err))
		return
	}
	ref := args.ReferenceDate
	if ref == (civil.Date{}) {
		ref = runner.ReferenceDate()
	}

	groups := []string{args.GroupID}
	if args.GroupID == "" {
		groups, err = sqlite.ListGroups(runner.DB)
		if err != nil {
			log.Printf("device-status list groups error: %v", err)
			postEphemeral(api, cmd, "Error loading device groups.")
			return
		}
	}

	var reports []domain.StatusReport
	var problems []string
	for _, g := range groups {
		rep, _, invalid, err := runner.ClassifyGroup(g, ref)
		if len(invalid) > 0 {
			problems = append(problems, fmt.Sprintf("`%s`: %d device(s) with malformed dates skipped", g, len(invalid)))
		}
		if errors.Is(err, domain.ErrEmptyPopulation) {
			problems = append(problems, fmt.Sprintf("`%s`: no classifiable devices", g))
			continue
		}
		if err != nil {
			log.Printf("device-status group=%s error: %v", g, err)
			problems = append(problems, fmt.Sprintf("`%s`: error classifying devices", g))
			continue
		}
		reports = append(reports, rep)
	}

	msg := report.FormatSlackSummary(runner.Cfg.TeamName, reports)
	if len(problems) > 0 {
		msg += "\n" + strings.Join(problems, "\n")
	}
	postEphemeral(api, cmd, msg)
}

func handleStatusRun(ctx context.Context, api *slack.Client, runner *run.Runner, notifier run.Notifier, cmd slack.SlashCommand) {
	postEphemeral(api, cmd, "Running device status pass...")
	res, err := run.RunAndNotify(ctx, runner, notifier)
	if err != nil {
		postEphemeral(api, cmd, fmt.Sprintf("Status run failed: %v", err))
		return
	}
	if runner.Cfg.ReportChannelID == "" {
		postEphemeral(api, cmd, run.FormatRunSummary(runner.Cfg.TeamName, res))
	}
}

func handleStatusQueries(ctx context.Context, api *slack.Client, runner *run.Runner, cmd slack.SlashCommand) {
	if runner.Submitter == nil {
		postEphemeral(api, cmd, "Athena submission is disabled (set `submit_queries: true`).")
		return
	}
	jobs, err := runner.SubmitQueries(ctx, runner.ReferenceDate())
	if err != nil {
		postEphemeral(api, cmd, fmt.Sprintf("Could not submit queries: %v", err))
		return
	}
	postEphemeral(api, cmd, formatJobs(jobs))
}

const historyLookbackDays = 7

func handleStatusHistory(api *slack.Client, runner *run.Runner, cmd slack.SlashCommand) {
	groupID := strings.TrimSpace(cmd.Text)
	if groupID == "" || len(strings.Fields(groupID)) != 1 {
		postEphemeral(api, cmd, "Usage: `/status-history <group>`")
		return
	}
	h, err := runner.History(groupID, historyLookbackDays)
	if errors.Is(err, sql.ErrNoRows) {
		postEphemeral(api, cmd, fmt.Sprintf("No stored runs for `%s` yet. Use `/status-run` first.", groupID))
		return
	}
	if err != nil {
		log.Printf("status-history group=%s error: %v", groupID, err)
		postEphemeral(api, cmd, "Error loading run history.")
		return
	}
	postEphemeral(api, cmd, run.FormatHistory(h))
}

func formatJobs(jobs []domain.QueryJob) string {
	if len(jobs) == 0 {
		return "No queries submitted."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Submitted %d status queries (results land in the Athena output location):", len(jobs))
	for _, j := range jobs {
		if j.Error != "" {
			fmt.Fprintf(&b, "\n• `%s`: failed: %s", j.StatsTable, j.Error)
			continue
		}
		fmt.Fprintf(&b, "\n• `%s`: `%s`", j.StatsTable, j.ExecutionID)
	}
	return b.String()
}

func helpText(teamName string) string {
	return fmt.Sprintf("*%s device status bot*\n"+
		"• `/device-status [group] [YYYY-MM-DD]`: classify devices now (nothing is stored)\n"+
		"• `/status-run`: run the full pass, store it and post the summary\n"+
		"• `/status-queries`: submit the Athena status queries and list execution ids\n"+
		"• `/status-history <group>`: last stored run and recent Athena queries for a group\n"+
		"• `/status-help`: this message", teamName)
}

func postEphemeral(api *slack.Client, cmd slack.SlashCommand, text string) {
	_, err := api.PostEphemeral(cmd.ChannelID, cmd.UserID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("Error posting ephemeral: %v", err)
	}
}
