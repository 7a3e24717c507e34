package config

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/pat/workitem-migrate/internal/contracts"
)

// Environment variable names for secrets. Tokens are never read from
// the config file.
const (
	EnvDevOpsToken = "MIGRATE_DEVOPS_TOKEN"
	EnvGitHubToken = "MIGRATE_GITHUB_TOKEN"
)

// FileConfig mirrors workitem-migrate.yaml. Every key can also be set
// through a MIGRATE_* environment variable, for example
// MIGRATE_DEVOPS_ORG_URL overrides devops.org_url.
type FileConfig struct {
	DevOps    DevOpsConfig    `mapstructure:"devops"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Selector  SelectorConfig  `mapstructure:"selector"`
	Migration MigrationConfig `mapstructure:"migration"`
}

type DevOpsConfig struct {
	OrgURL  string `mapstructure:"org_url"`
	Project string `mapstructure:"project"`
}

type GitHubConfig struct {
	Owner      string `mapstructure:"owner"`
	Repo       string `mapstructure:"repo"`
	APIBaseURL string `mapstructure:"api_base_url"`
}

type SelectorConfig struct {
	// Query overrides the generated WIQL entirely when set.
	Query    string `mapstructure:"query"`
	AreaPath string `mapstructure:"area_path"`
	// ExcludeMigrated filters out items that already carry the marker
	// tag. On by default so reruns are idempotent.
	ExcludeMigrated bool `mapstructure:"exclude_migrated"`
}

type MigrationConfig struct {
	AssigneeSuffix  string `mapstructure:"assignee_suffix"`
	MarkerTag       string `mapstructure:"marker_tag"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec"`
	MaxPollAttempts int    `mapstructure:"max_poll_attempts"`
}

// Load reads the config file and MIGRATE_* environment overrides. An
// absent file is not an error; defaults and environment still apply.
func Load(path string) (FileConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(contracts.DefaultConfigFileName, ".yaml"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(contracts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env overrides for keys viper knows about, so
	// bind the keys that have no default explicitly.
	for _, key := range []string{
		"devops.org_url", "devops.project",
		"github.owner", "github.repo",
		"selector.query", "selector.area_path",
		"migration.assignee_suffix",
	} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("github.api_base_url", "https://api.github.com")
	v.SetDefault("selector.exclude_migrated", true)
	v.SetDefault("migration.marker_tag", contracts.DefaultMarkerTag)
	v.SetDefault("migration.poll_interval_sec", int(contracts.DefaultPollInterval.Seconds()))
	v.SetDefault("migration.max_poll_attempts", contracts.DefaultMaxPollAttempts)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			if _, ok := err.(viper.ConfigParseError); ok {
				return FileConfig{}, &Error{Code: ErrorCodeParseFailed, Path: v.ConfigFileUsed(), Err: err}
			}
			return FileConfig{}, &Error{Code: ErrorCodeReadFailed, Path: path, Err: err}
		}
	}

	var loaded FileConfig
	if err := v.Unmarshal(&loaded); err != nil {
		return FileConfig{}, &Error{Code: ErrorCodeParseFailed, Path: v.ConfigFileUsed(), Err: err}
	}
	return loaded, nil
}

// Environment carries the env-only secrets.
type Environment struct {
	DevOpsToken string
	GitHubToken string
}

func EnvironmentFromOS() Environment {
	return EnvironmentFromLookup(os.LookupEnv)
}

func EnvironmentFromLookup(lookup func(string) (string, bool)) Environment {
	if lookup == nil {
		return Environment{}
	}
	return Environment{
		DevOpsToken: lookupTrimmed(lookup, EnvDevOpsToken),
		GitHubToken: lookupTrimmed(lookup, EnvGitHubToken),
	}
}

func lookupTrimmed(lookup func(string) (string, bool), key string) string {
	value, ok := lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
