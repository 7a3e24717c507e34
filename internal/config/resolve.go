// pattern: Functional Core
package config

import (
	"strings"
	"time"

	"github.com/pat/workitem-migrate/internal/contracts"
	"github.com/pat/workitem-migrate/internal/devops"
)

type RuntimeFlags struct {
	Query string
}

type ResolveOptions struct {
	// RequireSourceToken is on whenever work items will be read.
	RequireSourceToken bool
	// RequireTargetToken is off for dry runs, which never write to the
	// issue service.
	RequireTargetToken bool
}

type QuerySource string

const (
	QuerySourceFlag      QuerySource = "flag"
	QuerySourceConfig    QuerySource = "config"
	QuerySourceGenerated QuerySource = "generated"
)

// RuntimeSettings is the fully merged view the command runs with:
// flag > environment > file, secrets environment-only.
type RuntimeSettings struct {
	DevOpsOrgURL  string
	DevOpsProject string
	DevOpsToken   string

	GitHubBaseURL string
	GitHubOwner   string
	GitHubRepo    string
	GitHubToken   string

	Query       string
	QuerySource QuerySource

	AssigneeSuffix  string
	MarkerTag       string
	PollInterval    time.Duration
	MaxPollAttempts int
}

func Resolve(file FileConfig, flags RuntimeFlags, env Environment, options ResolveOptions) (RuntimeSettings, error) {
	if strings.TrimSpace(file.DevOps.OrgURL) == "" {
		return RuntimeSettings{}, &ResolveError{
			Code:    ResolveErrorCodeInvalidConfig,
			Message: "devops.org_url is required",
		}
	}
	if strings.TrimSpace(file.DevOps.Project) == "" {
		return RuntimeSettings{}, &ResolveError{
			Code:    ResolveErrorCodeInvalidConfig,
			Message: "devops.project is required",
		}
	}
	if strings.TrimSpace(file.GitHub.Owner) == "" || strings.TrimSpace(file.GitHub.Repo) == "" {
		return RuntimeSettings{}, &ResolveError{
			Code:    ResolveErrorCodeInvalidConfig,
			Message: "github.owner and github.repo are required",
		}
	}

	flagQuery := strings.TrimSpace(flags.Query)
	if flags.Query != "" && flagQuery == "" {
		return RuntimeSettings{}, &ResolveError{
			Code:    ResolveErrorCodeInvalidFlag,
			Message: "--query must not be only whitespace",
		}
	}

	if options.RequireSourceToken && env.DevOpsToken == "" {
		return RuntimeSettings{}, &ResolveError{
			Code:    ResolveErrorCodeMissingSourceToken,
			Message: EnvDevOpsToken + " is required",
		}
	}
	if options.RequireTargetToken && env.GitHubToken == "" {
		return RuntimeSettings{}, &ResolveError{
			Code:    ResolveErrorCodeMissingTargetToken,
			Message: EnvGitHubToken + " is required",
		}
	}

	markerTag := strings.TrimSpace(file.Migration.MarkerTag)
	if markerTag == "" {
		markerTag = contracts.DefaultMarkerTag
	}

	settings := RuntimeSettings{
		DevOpsOrgURL:    strings.TrimRight(strings.TrimSpace(file.DevOps.OrgURL), "/"),
		DevOpsProject:   strings.TrimSpace(file.DevOps.Project),
		DevOpsToken:     env.DevOpsToken,
		GitHubBaseURL:   strings.TrimRight(strings.TrimSpace(file.GitHub.APIBaseURL), "/"),
		GitHubOwner:     strings.TrimSpace(file.GitHub.Owner),
		GitHubRepo:      strings.TrimSpace(file.GitHub.Repo),
		GitHubToken:     env.GitHubToken,
		AssigneeSuffix:  strings.TrimSpace(file.Migration.AssigneeSuffix),
		MarkerTag:       markerTag,
		PollInterval:    resolvePollInterval(file.Migration.PollIntervalSec),
		MaxPollAttempts: resolveMaxPollAttempts(file.Migration.MaxPollAttempts),
	}

	switch {
	case flagQuery != "":
		settings.Query = flagQuery
		settings.QuerySource = QuerySourceFlag
	case strings.TrimSpace(file.Selector.Query) != "":
		settings.Query = strings.TrimSpace(file.Selector.Query)
		settings.QuerySource = QuerySourceConfig
	default:
		selector := devops.SelectorOptions{AreaPath: strings.TrimSpace(file.Selector.AreaPath)}
		if file.Selector.ExcludeMigrated {
			selector.ExcludeTag = markerTag
		}
		settings.Query = devops.DefaultWIQL(selector)
		settings.QuerySource = QuerySourceGenerated
	}

	return settings, nil
}

func resolvePollInterval(seconds int) time.Duration {
	if seconds <= 0 {
		return contracts.DefaultPollInterval
	}
	return time.Duration(seconds) * time.Second
}

func resolveMaxPollAttempts(attempts int) int {
	if attempts <= 0 {
		return contracts.DefaultMaxPollAttempts
	}
	return attempts
}
