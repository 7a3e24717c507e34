package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/pat/workitem-migrate/internal/config"
	"github.com/pat/workitem-migrate/internal/contracts"
	"github.com/pat/workitem-migrate/internal/devops"
	"github.com/pat/workitem-migrate/internal/github"
	"github.com/pat/workitem-migrate/internal/migrate"
	"github.com/pat/workitem-migrate/internal/migrate/importjob"
	"github.com/pat/workitem-migrate/internal/output"
	"github.com/pat/workitem-migrate/internal/report"
)

// SourceAdapter is the full work-tracking surface the command needs.
type SourceAdapter interface {
	migrate.Source
	QueryWorkItemIDs(ctx context.Context, wiql string) ([]int, error)
	Verify(ctx context.Context) error
}

// TargetAdapter is the full issue-tracking surface the command needs.
type TargetAdapter interface {
	migrate.Target
	importjob.StatusChecker
	Verify(ctx context.Context) error
}

type MigrateOptions struct {
	Query           string
	IDs             []int
	Limit           int
	Production      bool
	UpdateAssignees bool
	WithComments    bool
	DryRun          bool

	ConfigPath string

	Now         func() time.Time
	Environment config.Environment
	Logger      *zap.Logger

	// Source and Target override the real clients in tests.
	Source SourceAdapter
	Target TargetAdapter
}

// RunMigrate loads configuration, selects work items, and drives the
// migration pipeline. The returned report carries per-item outcomes;
// the error is fatal-only.
func RunMigrate(ctx context.Context, workDir string, options MigrateOptions) (output.Report, error) {
	commandReport := output.Report{CommandName: "migrate", DryRun: options.DryRun}

	configPath := options.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(workDir, contracts.DefaultConfigFileName)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return commandReport, fmt.Errorf("failed to load config: %w", err)
	}

	environment := options.Environment
	if environment == (config.Environment{}) {
		environment = config.EnvironmentFromOS()
	}

	settings, err := config.Resolve(cfg, config.RuntimeFlags{Query: options.Query}, environment, config.ResolveOptions{
		RequireSourceToken: options.Source == nil,
		RequireTargetToken: options.Target == nil && !options.DryRun,
	})
	if err != nil {
		return commandReport, err
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}

	source := options.Source
	if source == nil {
		client, err := devops.NewClient(devops.ClientOptions{
			OrgURL:              settings.DevOpsOrgURL,
			Project:             settings.DevOpsProject,
			PersonalAccessToken: settings.DevOpsToken,
		})
		if err != nil {
			return commandReport, fmt.Errorf("failed to initialize work item client: %w", err)
		}
		source = client
	}

	target := options.Target
	if target == nil && !options.DryRun {
		client, err := github.NewClient(github.ClientOptions{
			BaseURL: settings.GitHubBaseURL,
			Owner:   settings.GitHubOwner,
			Repo:    settings.GitHubRepo,
			Token:   settings.GitHubToken,
		})
		if err != nil {
			return commandReport, fmt.Errorf("failed to initialize issue client: %w", err)
		}
		target = client
	}

	if err := source.Verify(ctx); err != nil {
		return commandReport, fmt.Errorf("work item service preflight failed: %w", err)
	}
	if target != nil && !options.DryRun {
		if err := target.Verify(ctx); err != nil {
			return commandReport, fmt.Errorf("issue service preflight failed: %w", err)
		}
	}

	ids := options.IDs
	selector := settings.Query
	if len(ids) == 0 {
		ids, err = source.QueryWorkItemIDs(ctx, selector)
		if err != nil {
			return commandReport, fmt.Errorf("failed to select work items: %w", err)
		}
	} else {
		selector = ""
	}
	if options.Limit > 0 && len(ids) > options.Limit {
		ids = ids[:options.Limit]
	}
	if len(ids) == 0 {
		logger.Info("no work items matched the selector")
		return commandReport, nil
	}

	pipeline := migrate.Pipeline{
		Source: source,
		Target: target,
		Poller: importjob.Poller{
			Checker:     target,
			Interval:    settings.PollInterval,
			MaxAttempts: settings.MaxPollAttempts,
		},
		Options: migrate.Options{
			UpdateAssignees: options.UpdateAssignees,
			AssigneeSuffix:  settings.AssigneeSuffix,
			MigrateComments: options.WithComments,
			Production:      options.Production,
			MarkerTag:       settings.MarkerTag,
			DryRun:          options.DryRun,
		},
		Logger: logger,
		Now:    now,
	}

	startedAt := now()
	result, err := pipeline.Execute(ctx, ids)
	finishedAt := now()
	if err != nil {
		return commandReport, fmt.Errorf("failed to run migration: %w", err)
	}

	commandReport.Counts = result.Counts
	for _, item := range result.Items {
		commandReport.Items = append(commandReport.Items, contracts.PerItemResult{
			ID:       item.ID,
			Title:    item.Title,
			Outcome:  item.Outcome,
			IssueURL: item.IssueURL,
			Messages: item.Messages,
		})
	}

	persistReport(workDir, result, report.RunMeta{
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		DryRun:     options.DryRun,
		Production: options.Production,
		Selector:   selector,
	}, logger)

	return commandReport, nil
}

// persistReport is best effort; a run is not failed because its report
// could not be written.
func persistReport(workDir string, result migrate.Result, meta report.RunMeta, logger *zap.Logger) {
	store, err := report.NewStore(filepath.Join(workDir, contracts.DefaultReportDir))
	if err != nil {
		logger.Warn("report store unavailable", zap.Error(err))
		return
	}
	path, err := store.Save(report.FromResult(result, meta))
	if err != nil {
		logger.Warn("failed to persist run report", zap.Error(err))
		return
	}
	logger.Info("run report written", zap.String("path", path))
}
