package config

import (
	"os"

	"github.com/i5heu/ouroboros-catalog/pkg/migrate"
	"github.com/i5heu/ouroboros-catalog/pkg/versionstore"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Upgrade UpgradeConfig `yaml:"upgrade"`
	Log     LogConfig     `yaml:"log"`
}

type StoreConfig struct {
	Path             string `yaml:"path"`
	InMemory         bool   `yaml:"inMemory"`
	MinimumFreeSpace int    `yaml:"minimumFreeSpace"` // in GB
	KeyListDistance  int    `yaml:"keyListDistance"`
	CommitCacheSize  int    `yaml:"commitCacheSize"`
}

type UpgradeConfig struct {
	Branch              string `yaml:"branch"`
	WorkingBranch       string `yaml:"workingBranch"`
	MaxEntriesPerCommit int    `yaml:"maxEntriesPerCommit"`
	Committer           string `yaml:"committer"`
	// Workers above 1 classify entries on a worker pool.
	Workers int `yaml:"workers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Store: StoreConfig{
			Path:             "./data",
			MinimumFreeSpace: 1,
			KeyListDistance:  versionstore.DefaultKeyListDistance,
			CommitCacheSize:  versionstore.DefaultCommitCacheSize,
		},
		Upgrade: UpgradeConfig{
			Branch:              migrate.DefaultBranch,
			WorkingBranch:       migrate.DefaultWorkingBranch,
			MaxEntriesPerCommit: migrate.MaxEntriesPerCommit,
			Committer:           migrate.DefaultCommitter,
			Workers:             1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a yaml file on top of Default. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config file")
	}
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config file %s", path)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return errors.New("store.path is required unless store.inMemory is set")
	}
	if c.Upgrade.Branch == "" {
		return errors.New("upgrade.branch must not be empty")
	}
	if c.Upgrade.WorkingBranch == c.Upgrade.Branch {
		return errors.Errorf("upgrade.workingBranch must differ from upgrade.branch %q", c.Upgrade.Branch)
	}
	if c.Upgrade.MaxEntriesPerCommit < 1 {
		return errors.Errorf("upgrade.maxEntriesPerCommit must be positive, got %d", c.Upgrade.MaxEntriesPerCommit)
	}
	if c.Upgrade.Workers < 1 {
		return errors.Errorf("upgrade.workers must be positive, got %d", c.Upgrade.Workers)
	}
	if c.Store.MinimumFreeSpace < 0 {
		return errors.Errorf("store.minimumFreeSpace must not be negative, got %d", c.Store.MinimumFreeSpace)
	}
	return nil
}
