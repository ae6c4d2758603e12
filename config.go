package graphqlapp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/fsnotify/fsnotify"
	"github.com/graph-gophers/graphql-go"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var Version = "dev"

// Executor strategies selectable from the configuration.
const (
	ExecutorSync  = "sync"
	ExecutorAsync = "async"
)

// PluginConfig contains the configuration for the named plugin
type PluginConfig struct {
	Name   string
	Config json.RawMessage
}

type TimeoutConfig struct {
	ReadTimeout          string        `json:"read"`
	ReadTimeoutDuration  time.Duration `json:"-"`
	WriteTimeout         string        `json:"write"`
	WriteTimeoutDuration time.Duration `json:"-"`
	IdleTimeout          string        `json:"idle"`
	IdleTimeoutDuration  time.Duration `json:"-"`
}

// ExplorerConfig configures the page served to browsers on the GraphQL
// endpoint.
type ExplorerConfig struct {
	Enabled bool   `json:"enabled"`
	Flavor  string `json:"flavor"`
	Title   string `json:"title"`
}

// Config contains the server configuration
type Config struct {
	ListenAddress           string          `json:"address"`
	Port                    int             `json:"port"`
	MetricsListenAddress    string          `json:"metrics-address"`
	MetricsPort             int             `json:"metrics-port"`
	Path                    string          `json:"path"`
	Executor                string          `json:"executor"`
	MaxConcurrentExecutions int64           `json:"max-concurrent-executions"`
	Explorer                ExplorerConfig  `json:"explorer"`
	MaxFileUploadSize       int64           `json:"max-file-upload-size"`
	DefaultTimeouts         TimeoutConfig   `json:"default-timeouts"`
	PublicTimeouts          TimeoutConfig   `json:"public-timeouts"`
	LogLevel                log.Level       `json:"loglevel"`
	Telemetry               TelemetryConfig `json:"telemetry"`
	Plugins                 []PluginConfig
	// Config extensions that can be shared among plugins
	Extensions map[string]json.RawMessage

	plugins     []Plugin
	app         *App
	watcher     *fsnotify.Watcher
	tracer      trace.Tracer
	configFiles []string
	linkedFiles []string
}

// envConfig holds the settings that can be overridden from the environment.
type envConfig struct {
	LogLevel     string `env:"GRAPHQLAPP_LOG_LEVEL"`
	OTelEndpoint string `env:"GRAPHQLAPP_OTEL_ENDPOINT"`
	Executor     string `env:"GRAPHQLAPP_EXECUTOR"`
}

func (c *Config) addrOrPort(addr string, port int) string {
	if addr != "" {
		return addr
	}
	return fmt.Sprintf(":%d", port)
}

// Address returns the host:port string of the public server
func (c *Config) Address() string {
	return c.addrOrPort(c.ListenAddress, c.Port)
}

// MetricAddress returns the address for the metric port
func (c *Config) MetricAddress() string {
	return c.addrOrPort(c.MetricsListenAddress, c.MetricsPort)
}

// App returns the application built by Init.
func (c *Config) App() *App {
	return c.app
}

// Load loads or reloads all the config files.
func (c *Config) Load() error {
	c.Extensions = nil
	// concatenate plugins from all the config files
	var plugins []PluginConfig
	for _, configFile := range c.configFiles {
		c.Plugins = nil
		if err := c.decodeFile(configFile); err != nil {
			return err
		}
		plugins = append(plugins, c.Plugins...)
	}
	c.Plugins = plugins

	if err := c.loadEnv(); err != nil {
		return err
	}
	log.SetLevel(c.LogLevel)

	switch c.Executor {
	case ExecutorSync, ExecutorAsync:
	default:
		return fmt.Errorf("invalid executor %q, must be %q or %q", c.Executor, ExecutorSync, ExecutorAsync)
	}

	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("invalid path %q, must start with /", c.Path)
	}

	var err error
	c.DefaultTimeouts.ReadTimeoutDuration, err = time.ParseDuration(c.DefaultTimeouts.ReadTimeout)
	if err != nil {
		return fmt.Errorf("invalid default read timeout: %w", err)
	}
	c.DefaultTimeouts.WriteTimeoutDuration, err = time.ParseDuration(c.DefaultTimeouts.WriteTimeout)
	if err != nil {
		return fmt.Errorf("invalid default write timeout: %w", err)
	}
	c.DefaultTimeouts.IdleTimeoutDuration, err = time.ParseDuration(c.DefaultTimeouts.IdleTimeout)
	if err != nil {
		return fmt.Errorf("invalid default idle timeout: %w", err)
	}
	if err = c.loadTimeouts(&c.PublicTimeouts, "public", c.DefaultTimeouts); err != nil {
		return err
	}

	c.plugins = c.ConfigurePlugins()

	return nil
}

func (c *Config) decodeFile(configFile string) error {
	f, err := os.Open(configFile)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("error decoding config file %q: %w", configFile, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}

	if level, err := log.ParseLevel(e.LogLevel); err == nil {
		c.LogLevel = level
	} else if e.LogLevel != "" {
		log.WithField("loglevel", e.LogLevel).Warn("invalid loglevel")
	}
	if e.OTelEndpoint != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = e.OTelEndpoint
	}
	if e.Executor != "" {
		c.Executor = e.Executor
	}

	return nil
}

func (c *Config) loadTimeouts(config *TimeoutConfig, name string, defaults TimeoutConfig) error {
	var err error
	if config.ReadTimeout != "" {
		config.ReadTimeoutDuration, err = time.ParseDuration(config.ReadTimeout)
		if err != nil {
			return fmt.Errorf("invalid %s read timeout: %w", name, err)
		}
	}
	if config.ReadTimeoutDuration == 0 {
		config.ReadTimeoutDuration = defaults.ReadTimeoutDuration
	}
	if config.WriteTimeout != "" {
		config.WriteTimeoutDuration, err = time.ParseDuration(config.WriteTimeout)
		if err != nil {
			return fmt.Errorf("invalid %s write timeout: %w", name, err)
		}
	}
	if config.WriteTimeoutDuration == 0 {
		config.WriteTimeoutDuration = defaults.WriteTimeoutDuration
	}
	if config.IdleTimeout != "" {
		config.IdleTimeoutDuration, err = time.ParseDuration(config.IdleTimeout)
		if err != nil {
			return fmt.Errorf("invalid %s idle timeout: %w", name, err)
		}
	}
	if config.IdleTimeoutDuration == 0 {
		config.IdleTimeoutDuration = defaults.IdleTimeoutDuration
	}
	return nil
}

// Watch starts watching the config files for change.
func (c *Config) Watch() {
	for {
		select {
		case err := <-c.watcher.Errors:
			log.WithError(err).Error("config watch error")
		case e := <-c.watcher.Events:
			log.WithFields(log.Fields{"event": e, "files": c.configFiles, "links": c.linkedFiles}).Debug("received config file event")
			if !c.shouldReload(e) {
				log.Debug("nothing to update")
				continue
			}

			if err := c.reload(); err != nil {
				log.WithError(err).Error("error reloading config")
			}
		}
	}
}

// shouldReload reports whether the event is a write to one of the config
// files, or a change of the target of a symlinked config file (k8s config
// map update).
func (c *Config) shouldReload(e fsnotify.Event) bool {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return false
	}
	for i := range c.configFiles {
		if filepath.Clean(e.Name) == filepath.Clean(c.configFiles[i]) {
			return true
		}
		currentFile, _ := filepath.EvalSymlinks(c.configFiles[i])
		if c.linkedFiles[i] != "" && c.linkedFiles[i] != currentFile {
			c.linkedFiles[i] = currentFile
			return true
		}
	}
	return false
}

// reload applies the log level and plugin configuration. Listen addresses,
// path and executor only change on restart.
func (c *Config) reload() error {
	_, span := c.tracer.Start(context.Background(), "Config Reload")
	defer span.End()

	if err := c.Load(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"loglevel": c.LogLevel.String(),
		"plugins":  pluginNames(c.plugins),
	}).Info("config file updated")

	return nil
}

// GetConfig returns operational config for the server
func GetConfig(configFiles []string) (*Config, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("could not create watcher: %w", err)
	}
	var linkedFiles []string
	for _, configFile := range configFiles {
		// watch the directory, else we'll lose the watch if the file is relinked
		err = watcher.Add(filepath.Dir(configFile))
		if err != nil {
			return nil, fmt.Errorf("error add file to watcher: %w", err)
		}
		linkedFile, _ := filepath.EvalSymlinks(configFile)
		linkedFiles = append(linkedFiles, linkedFile)
	}

	cfg := Config{
		DefaultTimeouts: TimeoutConfig{
			ReadTimeout:  "5s",
			WriteTimeout: "10s",
			IdleTimeout:  "120s",
		},
		Port:              8082,
		MetricsPort:       9009,
		Path:              defaultPath,
		Executor:          ExecutorSync,
		Explorer:          ExplorerConfig{Enabled: true, Flavor: ExplorerGraphiQL},
		MaxFileUploadSize: 32 << 20,
		LogLevel:          log.DebugLevel,

		watcher:     watcher,
		tracer:      otel.GetTracerProvider().Tracer(instrumentationName),
		configFiles: configFiles,
		linkedFiles: linkedFiles,
	}
	err = cfg.Load()

	return &cfg, err
}

// ConfigurePlugins calls the Configure method on each plugin.
func (c *Config) ConfigurePlugins() []Plugin {
	var enabledPlugins []Plugin
	for _, pl := range c.Plugins {
		p, ok := RegisteredPlugins()[pl.Name]
		if !ok {
			log.Warnf("plugin %q not found", pl.Name)
			continue
		}
		err := p.Configure(c, pl.Config)
		if err != nil {
			log.WithError(err).Fatalf("error unmarshalling config for plugin %q: %s", pl.Name, err)
		}
		enabledPlugins = append(enabledPlugins, p)
	}

	return enabledPlugins
}

// HandlerOptions returns the handler options described by the configuration.
func (c *Config) HandlerOptions() []HandlerOpt {
	var opts []HandlerOpt

	if c.Executor == ExecutorAsync {
		opts = append(opts, WithExecutor(NewAsyncExecutor(c.MaxConcurrentExecutions)))
	} else {
		opts = append(opts, WithExecutor(SyncExecutor{}))
	}

	if c.Explorer.Enabled {
		opts = append(opts, WithExplorer(NewExplorer(c.Explorer.Flavor, c.Explorer.Title)))
	} else {
		opts = append(opts, WithExplorer(nil))
	}

	if c.MaxFileUploadSize > 0 {
		opts = append(opts, WithMaxUploadSize(c.MaxFileUploadSize))
	}

	return opts
}

// Init builds the application serving schema.
func (c *Config) Init(schema *graphql.Schema) error {
	if schema == nil {
		return fmt.Errorf("no schema to serve")
	}

	c.app = NewApp(NewHandler(schema, c.HandlerOptions()...), c.Path, c.plugins)

	log.Infof("enabled plugins: %v", pluginNames(c.plugins))

	return nil
}

func pluginNames(plugins []Plugin) []string {
	var names []string
	for _, plugin := range plugins {
		names = append(names, plugin.ID())
	}
	return names
}

type arrayFlags []string

func (a *arrayFlags) String() string {
	return strings.Join(*a, ",")
}

func (a *arrayFlags) Set(value string) error {
	*a = append(*a, value)
	return nil
}
