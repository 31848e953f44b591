package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Name is the software name reported by NodeInfo and used for the
// default data directory (~/.kibou).
const Name = "kibou"

// ConfigEnvVar points ReadConf at an alternative config file path.
const ConfigEnvVar = "KIBOU_CONFIG"

const defaultConfigFile = "config.yml"

type EndpointConf struct {
	BaseScheme string `yaml:"base_scheme"`
	BaseDomain string `yaml:"base_domain"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
}

// DatabaseConf carries the usual RDBMS connection keys. The SQLite
// backend only uses Database (as a file path); hostname, username and
// password are accepted so configs stay portable across deployments.
type DatabaseConf struct {
	Hostname string `yaml:"hostname"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password" json:"-"`
}

type NodeConf struct {
	Name                 string `yaml:"name"`
	Description          string `yaml:"description"`
	RegistrationsEnabled bool   `yaml:"registrations_enabled"`
}

type NodeInfoConf struct {
	Enabled bool `yaml:"enabled"`
}

type AppConfig struct {
	Endpoint     EndpointConf `yaml:"endpoint"`
	Database     DatabaseConf `yaml:"database"`
	Node         NodeConf     `yaml:"node"`
	NodeInfo     NodeInfoConf `yaml:"nodeinfo"`
	WithJournald bool         `yaml:"with_journald"`
	WithPprof    bool         `yaml:"with_pprof"`
}

// defaultConfig returns an AppConfig with defaults applied; yaml.Unmarshal
// then overrides whatever the config file sets explicitly.
func defaultConfig() *AppConfig {
	return &AppConfig{
		Endpoint: EndpointConf{
			BaseScheme: "https",
			Host:       "0.0.0.0",
			Port:       8080,
		},
		Node: NodeConf{
			Name:                 Name,
			RegistrationsEnabled: true,
		},
		NodeInfo: NodeInfoConf{
			Enabled: true,
		},
	}
}

// ReadConf loads the YAML configuration from $KIBOU_CONFIG, falling back
// to ./config.yml in the working directory.
func ReadConf() (*AppConfig, error) {
	path := os.Getenv(ConfigEnvVar)
	if path == "" {
		path = defaultConfigFile
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %s: %w", path, err)
	}

	conf := defaultConfig()
	if err := yaml.Unmarshal(raw, conf); err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return conf, nil
}

func (c *AppConfig) Validate() error {
	if c.Endpoint.BaseScheme != "http" && c.Endpoint.BaseScheme != "https" {
		return fmt.Errorf("endpoint.base_scheme must be http or https, got %q", c.Endpoint.BaseScheme)
	}
	if c.Endpoint.BaseDomain == "" {
		return fmt.Errorf("endpoint.base_domain must be set")
	}
	if strings.Contains(c.Endpoint.BaseDomain, "/") {
		return fmt.Errorf("endpoint.base_domain must be a bare hostname, got %q", c.Endpoint.BaseDomain)
	}
	if c.Endpoint.Port < 1 || c.Endpoint.Port > 65535 {
		return fmt.Errorf("endpoint.port must be between 1 and 65535, got %d", c.Endpoint.Port)
	}
	return nil
}

// BaseURL returns the public base URL of this node, without a trailing slash.
func (c *AppConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s", c.Endpoint.BaseScheme, c.Endpoint.BaseDomain)
}

// ActorURI returns the canonical URI of a local actor.
func (c *AppConfig) ActorURI(username string) string {
	return fmt.Sprintf("%s/actors/%s", c.BaseURL(), username)
}

// ActivityURI returns the canonical URI for a locally minted activity id.
func (c *AppConfig) ActivityURI(id string) string {
	return fmt.Sprintf("%s/activities/%s", c.BaseURL(), id)
}

// ObjectURI returns the canonical URI for a locally minted object id.
func (c *AppConfig) ObjectURI(id string) string {
	return fmt.Sprintf("%s/objects/%s", c.BaseURL(), id)
}

// KeyId returns the key id advertised in actor documents and used in
// HTTP signature headers.
func (c *AppConfig) KeyId(username string) string {
	return c.ActorURI(username) + "#main-key"
}

// SharedInboxURI returns the node-wide inbox endpoint.
func (c *AppConfig) SharedInboxURI() string {
	return c.BaseURL() + "/inbox"
}

// IsLocalHost reports whether the given hostname identifies this node.
func (c *AppConfig) IsLocalHost(host string) bool {
	return strings.EqualFold(host, c.Endpoint.BaseDomain)
}

// ListenAddr returns the bind address for the HTTP server.
func (c *AppConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Endpoint.Host, c.Endpoint.Port)
}

// DatabasePath returns the SQLite file path, defaulting to a file in the
// application directory when database.database is unset.
func (c *AppConfig) DatabasePath() string {
	if c.Database.Database != "" {
		return c.Database.Database
	}
	return ResolveFilePath(Name + ".db")
}

// ResolveFilePath returns the path for a data file inside the application
// directory (~/.kibou), creating the directory if needed. Falls back to
// the working directory when no home directory is available.
func ResolveFilePath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	dir := filepath.Join(home, "."+Name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return filename
	}
	return filepath.Join(dir, filename)
}
