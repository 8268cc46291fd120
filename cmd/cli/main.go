package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"sonarboard/internal/client"
	"sonarboard/internal/config"
	"sonarboard/internal/domain"
	"sonarboard/internal/report"
	apiclient "sonarboard/pkg/client"
)

var (
	apiEndpoint     string
	includeInactive bool
)

var rootCmd = &cobra.Command{
	Use:   "sonarboard",
	Short: "Code quality metrics dashboard tool",
	Long: `A CLI for the sonarboard metrics dashboard.

Most commands talk to a running sonarboard server, which owns the job
registry and the snapshot store. The validate command checks credentials
directly against the quality API and the SMTP server.`,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate quality API and SMTP credentials",
	RunE:  runValidate,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Discover upstream projects and schedule refresh jobs",
	RunE:  runSync,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [repository|group] [id]",
	Short: "Trigger an immediate refresh for an entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runRefresh,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked projects",
	RunE:  runStatus,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show the scheduler's job registry",
	RunE:  runJobs,
}

var reportCmd = &cobra.Command{
	Use:   "report [daily|weekly] [project-key]",
	Short: "Render a report preview to stdout",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runReport,
}

var intervalCmd = &cobra.Command{
	Use:   "interval [repository|group] [id] [seconds]",
	Short: "Set an entity's refresh interval",
	Args:  cobra.ExactArgs(3),
	RunE:  runInterval,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiEndpoint, "endpoint", "", "sonarboard server endpoint (default from API_ENDPOINT)")
	statusCmd.Flags().BoolVar(&includeInactive, "all", false, "include inactive projects")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(intervalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getAPIClient() (*apiclient.Client, error) {
	endpoint := apiEndpoint
	if endpoint == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		endpoint = cfg.APIEndpoint
	}
	return apiclient.NewClient(endpoint), nil
}

func entityTypeArg(raw string) (domain.EntityType, error) {
	switch raw {
	case "repository":
		return domain.EntityTypeRepository, nil
	case "group":
		return domain.EntityTypeGroup, nil
	}
	return "", fmt.Errorf("entity type must be 'repository' or 'group', got %q", raw)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	qualityClient := client.New(client.Options{
		BaseURL:    cfg.SonarAPIURL,
		Token:      cfg.SonarToken,
		MinVersion: cfg.SonarMinVersion,
		RateLimit:  cfg.RateLimitInterval,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryBaseDelay,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ok, msg, err := qualityClient.ValidateCredentials(ctx)
	if err != nil {
		return fmt.Errorf("quality API validation failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("quality API: %s", msg)
	}
	fmt.Printf("Quality API: %s\n", msg)

	if cfg.SMTPUsername == "" {
		fmt.Println("SMTP: not configured, skipping")
		return nil
	}
	mailer := report.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	if err := mailer.TestConnection(); err != nil {
		return fmt.Errorf("SMTP validation failed: %w", err)
	}
	fmt.Println("SMTP: connection verified")
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	api, err := getAPIClient()
	if err != nil {
		return err
	}

	count, err := api.Sync()
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Printf("Discovered %d projects; refresh jobs scheduled\n", count)
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	entityType, err := entityTypeArg(args[0])
	if err != nil {
		return err
	}

	api, err := getAPIClient()
	if err != nil {
		return err
	}

	if entityType == domain.EntityTypeGroup {
		return fmt.Errorf("group refreshes fire on their schedule; set a shorter interval with 'sonarboard interval group %s <seconds>'", args[1])
	}

	jobID, err := api.TriggerRefresh(args[1])
	if err != nil {
		return fmt.Errorf("refresh trigger failed: %w", err)
	}
	fmt.Printf("Refresh triggered (job %s)\n", jobID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	api, err := getAPIClient()
	if err != nil {
		return err
	}

	projects, err := api.ListProjects(includeInactive)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Name", "Active", "Failures", "Interval", "Last Seen"})
	for _, p := range projects {
		table.Append([]string{
			p.Key,
			p.Name,
			fmt.Sprintf("%t", p.IsActive),
			fmt.Sprintf("%d", p.ConsecutiveFailures),
			fmt.Sprintf("%ds", p.UpdateInterval),
			p.LastSeen.Format("2006-01-02 15:04"),
		})
	}
	table.Render()
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	api, err := getAPIClient()
	if err != nil {
		return err
	}

	jobs, err := api.ListJobs()
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Job", "Kind", "State", "Next Run", "Last Status", "OK", "Errors", "Missed"})
	for _, j := range jobs {
		table.Append([]string{
			j.ID,
			string(j.Kind),
			string(j.State),
			j.NextRun.Format("2006-01-02 15:04:05"),
			string(j.LastStatus),
			fmt.Sprintf("%d", j.SuccessfulRuns),
			fmt.Sprintf("%d", j.ErrorCount),
			fmt.Sprintf("%d", j.MissedRuns),
		})
	}
	table.Render()
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	period := args[0]
	if period != "daily" && period != "weekly" {
		return fmt.Errorf("period must be 'daily' or 'weekly', got %q", period)
	}
	projectKey := ""
	if len(args) == 2 {
		projectKey = args[1]
	}

	api, err := getAPIClient()
	if err != nil {
		return err
	}

	html, err := api.ReportPreview(period, projectKey)
	if err != nil {
		return fmt.Errorf("report preview failed: %w", err)
	}
	fmt.Println(html)
	return nil
}

func runInterval(cmd *cobra.Command, args []string) error {
	entityType, err := entityTypeArg(args[0])
	if err != nil {
		return err
	}

	seconds, err := strconv.Atoi(args[2])
	if err != nil || seconds < 60 {
		return fmt.Errorf("seconds must be a number >= 60, got %q", args[2])
	}

	api, err := getAPIClient()
	if err != nil {
		return err
	}

	if err := api.SetInterval(entityType, args[1], seconds); err != nil {
		return fmt.Errorf("failed to set interval: %w", err)
	}
	fmt.Printf("Update interval for %s %s set to %ds\n", entityType, args[1], seconds)
	return nil
}
