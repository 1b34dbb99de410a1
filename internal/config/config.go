// Package config loads the YAML document every binary in this module
// starts from: broker and database credentials, logging setup, the
// external tool table, shared timeouts, and the per-project sections
// that parameterize the producer and every stage consumer.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// RabbitMQConfig is the shared broker connection the mqclient package
// dials with.
type RabbitMQConfig struct {
	Host     string `yaml:"Host"`
	Port     int    `yaml:"Port"`
	User     string `yaml:"User"`
	Password string `yaml:"Password"`
	Vhost    string `yaml:"Vhost"`
}

// MySQLConfig is the shared database connection; individual projects
// override Database to point each project's tables at its own schema.
type MySQLConfig struct {
	Host     string `yaml:"Host"`
	Port     int    `yaml:"Port"`
	User     string `yaml:"User"`
	Password string `yaml:"Password"`
}

// LoggingConfig selects the structured logging handler and level every
// process initializes with.
type LoggingConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
	Path   string `yaml:"Path"`
}

// ApplicationBinary names one external tool this pipeline shells out to.
type ApplicationBinary struct {
	Path        string        `yaml:"Path"`
	Timeout     time.Duration `yaml:"Timeout"`
	FilePattern string        `yaml:"FilePattern"`
}

// RequestsConfig and DownloadsConfig carry the two HTTP timeouts the
// producer and Download.HTTP use respectively.
type RequestsConfig struct {
	Timeout time.Duration `yaml:"Timeout"`
}

type DownloadsConfig struct {
	Timeout time.Duration `yaml:"Timeout"`
}

// VariousConfig groups the miscellaneous shared timeouts that don't
// belong to any one external tool or project.
type VariousConfig struct {
	Requests  RequestsConfig  `yaml:"Requests"`
	Downloads DownloadsConfig `yaml:"Downloads"`
}

// ProjectMySQL overrides the shared MySQL connection's database name.
type ProjectMySQL struct {
	Database string `yaml:"Database"`
}

// ProjectRabbitMQ overrides which exchange a project's messages flow
// through.
type ProjectRabbitMQ struct {
	Exchange string `yaml:"Exchange"`
}

// GerritConfig and CVSAnalyConfig point at the config files those
// external tools expect; this module treats the files as opaque.
type GerritConfig struct {
	ConfigFile string `yaml:"ConfigFile"`
}

type CVSAnalyConfig struct {
	ConfigFile string `yaml:"ConfigFile"`
}

// NNTPConfig is read by the (external) mailing-list analyzer some
// projects configure; unused by the stages this module implements but
// preserved since project sections of the config file carry it.
type NNTPConfig struct {
	Host string `yaml:"Host"`
}

// ProjectConfig is one entry under the Projects section: everything a
// producer run or stage consumer needs to know to operate on a single
// project's data.
type ProjectConfig struct {
	MySQL           ProjectMySQL              `yaml:"MySQL"`
	RabbitMQ        ProjectRabbitMQ           `yaml:"RabbitMQ"`
	ReleasesPath    string                    `yaml:"ReleasesPath"`
	GitCheckoutPath string                    `yaml:"GitCheckoutPath"`
	Gitweb          string                    `yaml:"Gitweb"`
	Gerrit          GerritConfig              `yaml:"Gerrit"`
	CVSAnaly        CVSAnalyConfig            `yaml:"CVSAnaly"`
	NNTP            NNTPConfig                `yaml:"NNTP"`
	FeedURL         string                    `yaml:"FeedURL"`
	// Analyzers lists which tarball-extraction analyzers Extract.Targz
	// fans out to for this project: any of "phploc", "pdepend",
	// "linguist". cvsanaly is never listed here — it runs off
	// Download.Git's gitweb checkouts instead, not a tarball extraction.
	Analyzers []string                  `yaml:"Analyzers"`
	Consumer  map[string]map[string]any `yaml:"Consumer"`
}

// Config is the top-level document. It is constructed once at process
// startup by Load and threaded explicitly into every component that
// needs it — never held in a package-level singleton.
type Config struct {
	RabbitMQ    RabbitMQConfig                `yaml:"RabbitMQ"`
	MySQL       MySQLConfig                   `yaml:"MySQL"`
	Logging     LoggingConfig                 `yaml:"Logging"`
	Application map[string]ApplicationBinary  `yaml:"Application"`
	Various     VariousConfig                 `yaml:"Various"`
	Projects    map[string]ProjectConfig      `yaml:"Projects"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses the YAML document at path, expanding ${VAR}
// references in string scalars against the process environment before
// committing the document to the returned Config.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := envPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Project looks up a project's section by name, returning an error that
// names the project so CLI startup failures are actionable.
func (c *Config) Project(name string) (ProjectConfig, error) {
	p, ok := c.Projects[name]
	if !ok {
		return ProjectConfig{}, fmt.Errorf("config: unknown project %q", name)
	}
	return p, nil
}
