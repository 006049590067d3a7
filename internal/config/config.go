// Package config provides configuration management for the kiosk agent.
// Values come from defaults, then an optional TOML file, then environment
// variables (a .env file in the working directory is loaded first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort              = 8787
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "auto"
	DefaultDataDir           = ".heimdex-kiosk"
	DefaultBaseURL           = "http://localhost:8001"
	DefaultChunks            = 8
	DefaultInitialPollDelay  = 5 * time.Second
	DefaultMaxPollDuration   = 10 * time.Minute
	DefaultRetrievalAttempts = 3
	DefaultDemoDelay         = 3 * time.Second

	// ServicePort is the port the face-swap service listens on behind the RunPod proxy.
	ServicePort = 8001

	// Environment variable names
	EnvConfigFile        = "HEIMDEX_KIOSK_CONFIG"
	EnvPort              = "HEIMDEX_KIOSK_PORT"
	EnvLogLevel          = "HEIMDEX_KIOSK_LOG_LEVEL"
	EnvLogFormat         = "HEIMDEX_KIOSK_LOG_FORMAT"
	EnvDataDir           = "HEIMDEX_KIOSK_DATA_DIR"
	EnvBaseURL           = "HEIMDEX_KIOSK_BASE_URL"
	EnvHostname          = "HEIMDEX_KIOSK_HOSTNAME"
	EnvPodID             = "RUNPOD_POD_ID"
	EnvChunks            = "HEIMDEX_KIOSK_CHUNKS"
	EnvInitialPollDelay  = "HEIMDEX_KIOSK_INITIAL_POLL_DELAY"
	EnvMaxPollDuration   = "HEIMDEX_KIOSK_MAX_POLL_DURATION"
	EnvRetrievalAttempts = "HEIMDEX_KIOSK_RETRIEVAL_ATTEMPTS"
	EnvDemoFallback      = "HEIMDEX_KIOSK_DEMO_FALLBACK"
	EnvDemoDelay         = "HEIMDEX_KIOSK_DEMO_DELAY"
	EnvDemoMedia         = "HEIMDEX_KIOSK_DEMO_MEDIA"
	EnvStreamFallback    = "HEIMDEX_KIOSK_STREAM_FALLBACK"
	EnvDirectFallback    = "HEIMDEX_KIOSK_DIRECT_FALLBACK"
	EnvCleanupOnReset    = "HEIMDEX_KIOSK_CLEANUP_ON_RESET"
	EnvHeadless          = "HEIMDEX_KIOSK_HEADLESS"
	EnvAllowedOrigins    = "HEIMDEX_KIOSK_ALLOWED_ORIGINS"

	// File names inside the data directory
	DBFilename     = "kiosk.db"
	ConfigFilename = "kiosk.toml"
	LockFilename   = "kiosk.lock"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	LockPath() string
	BaseURL() string
	Chunks() int
	InitialPollDelay() time.Duration
	MaxPollDuration() time.Duration
	RetrievalAttempts() int
	DemoFallback() bool
	DemoDelay() time.Duration
	DemoMediaPath() string
	StreamFallback() bool
	DirectFallback() bool
	CleanupOnReset() bool
	Headless() bool
	AllowedOrigins() []string
}

// fileConfig mirrors kiosk.toml. Unset keys keep their defaults.
type fileConfig struct {
	Port      *int    `toml:"port"`
	LogLevel  *string `toml:"log_level"`
	LogFormat *string `toml:"log_format"`
	DataDir   *string `toml:"data_dir"`
	Headless  *bool   `toml:"headless"`
	// AllowedOrigins are non-loopback origins allowed to call the agent API.
	AllowedOrigins []string `toml:"allowed_origins"`

	Service struct {
		BaseURL  *string `toml:"base_url"`
		Hostname *string `toml:"hostname"`
		PodID    *string `toml:"pod_id"`
	} `toml:"service"`

	Tracking struct {
		InitialPollDelay  *string `toml:"initial_poll_delay"`
		MaxPollDuration   *string `toml:"max_poll_duration"`
		RetrievalAttempts *int    `toml:"retrieval_attempts"`
		CleanupOnReset    *bool   `toml:"cleanup_on_reset"`
	} `toml:"tracking"`

	Download struct {
		Chunks         *int  `toml:"chunks"`
		StreamFallback *bool `toml:"stream_fallback"`
		DirectFallback *bool `toml:"direct_fallback"`
	} `toml:"download"`

	Demo struct {
		Enabled *bool   `toml:"enabled"`
		Delay   *string `toml:"delay"`
		Media   *string `toml:"media"`
	} `toml:"demo"`
}

// EnvConfig is the resolved configuration.
type EnvConfig struct {
	port      int
	logLevel  string
	logFormat string
	dataDir   string
	headless  bool
	origins   []string

	baseURL  string
	hostname string
	podID    string

	chunks            int
	initialPollDelay  time.Duration
	maxPollDuration   time.Duration
	retrievalAttempts int
	cleanupOnReset    bool

	demoFallback   bool
	demoDelay      time.Duration
	demoMediaPath  string
	streamFallback bool
	directFallback bool

	source string
}

func defaults() *EnvConfig {
	return &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		logFormat:         DefaultLogFormat,
		dataDir:           defaultDataDir(),
		chunks:            DefaultChunks,
		initialPollDelay:  DefaultInitialPollDelay,
		maxPollDuration:   DefaultMaxPollDuration,
		retrievalAttempts: DefaultRetrievalAttempts,
		cleanupOnReset:    true,
		demoFallback:      true,
		demoDelay:         DefaultDemoDelay,
		streamFallback:    true,
	}
}

// New loads .env, the config file and environment overrides.
func New() (*EnvConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Load(os.Getenv(EnvConfigFile))
}

// Load builds a config from an explicit file path (may be empty) and the
// environment. A missing file is not an error.
func Load(path string) (*EnvConfig, error) {
	cfg := defaults()
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if path == "" {
		path = filepath.Join(cfg.dataDir, ConfigFilename)
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.source = path

	setInt(&c.port, fc.Port)
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.logFormat, fc.LogFormat)
	setString(&c.dataDir, fc.DataDir)
	setBool(&c.headless, fc.Headless)
	if fc.AllowedOrigins != nil {
		c.origins = fc.AllowedOrigins
	}

	setString(&c.baseURL, fc.Service.BaseURL)
	setString(&c.hostname, fc.Service.Hostname)
	setString(&c.podID, fc.Service.PodID)

	setInt(&c.retrievalAttempts, fc.Tracking.RetrievalAttempts)
	setBool(&c.cleanupOnReset, fc.Tracking.CleanupOnReset)
	setInt(&c.chunks, fc.Download.Chunks)
	setBool(&c.streamFallback, fc.Download.StreamFallback)
	setBool(&c.directFallback, fc.Download.DirectFallback)
	setBool(&c.demoFallback, fc.Demo.Enabled)
	setString(&c.demoMediaPath, fc.Demo.Media)

	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"tracking.initial_poll_delay", fc.Tracking.InitialPollDelay, &c.initialPollDelay},
		{"tracking.max_poll_duration", fc.Tracking.MaxPollDuration, &c.maxPollDuration},
		{"demo.delay", fc.Demo.Delay, &c.demoDelay},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if lf := os.Getenv(EnvLogFormat); lf != "" {
		c.logFormat = lf
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}
	if u := os.Getenv(EnvBaseURL); u != "" {
		c.baseURL = u
	}
	if h := os.Getenv(EnvHostname); h != "" {
		c.hostname = h
	}
	if id := os.Getenv(EnvPodID); id != "" {
		c.podID = id
	}
	if dm := os.Getenv(EnvDemoMedia); dm != "" {
		c.demoMediaPath = dm
	}
	if ao := os.Getenv(EnvAllowedOrigins); ao != "" {
		c.origins = nil
		for _, o := range strings.Split(ao, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.origins = append(c.origins, o)
			}
		}
	}

	ints := map[string]*int{
		EnvChunks:            &c.chunks,
		EnvRetrievalAttempts: &c.retrievalAttempts,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		EnvInitialPollDelay: &c.initialPollDelay,
		EnvMaxPollDuration:  &c.maxPollDuration,
		EnvDemoDelay:        &c.demoDelay,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		EnvDemoFallback:   &c.demoFallback,
		EnvStreamFallback: &c.streamFallback,
		EnvDirectFallback: &c.directFallback,
		EnvCleanupOnReset: &c.cleanupOnReset,
		EnvHeadless:       &c.headless,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	switch c.logFormat {
	case "json", "text", "auto":
	default:
		return fmt.Errorf("invalid log format %q: want json, text or auto", c.logFormat)
	}
	if c.chunks < 1 || c.chunks > 64 {
		return fmt.Errorf("invalid chunk count %d: must be between 1 and 64", c.chunks)
	}
	if c.retrievalAttempts < 1 {
		return fmt.Errorf("invalid retrieval attempts %d: must be at least 1", c.retrievalAttempts)
	}
	if c.initialPollDelay < 0 || c.maxPollDuration <= 0 || c.demoDelay < 0 {
		return errors.New("poll and demo durations must not be negative")
	}
	return nil
}

// ResolveBaseURL picks the face-swap service address. A RunPod proxy
// hostname or pod id wins over an explicit URL, which wins over localhost.
func ResolveBaseURL(hostname, podID, explicit string) string {
	if hostname != "" && strings.Contains(hostname, "proxy.runpod.net") {
		if pod, _, ok := strings.Cut(hostname, "-"); ok && pod != "" {
			return runpodURL(pod)
		}
	}
	if podID != "" {
		return runpodURL(podID)
	}
	if explicit != "" {
		return strings.TrimRight(explicit, "/")
	}
	return DefaultBaseURL
}

func runpodURL(pod string) string {
	return fmt.Sprintf("https://%s-%d.proxy.runpod.net", pod, ServicePort)
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns json, text or auto
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LockPath returns the single-instance lock file
func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, LockFilename)
}

// BaseURL returns the resolved face-swap service address
func (c *EnvConfig) BaseURL() string {
	return ResolveBaseURL(c.hostname, c.podID, c.baseURL)
}

func (c *EnvConfig) Chunks() int                     { return c.chunks }
func (c *EnvConfig) InitialPollDelay() time.Duration { return c.initialPollDelay }
func (c *EnvConfig) MaxPollDuration() time.Duration  { return c.maxPollDuration }
func (c *EnvConfig) RetrievalAttempts() int          { return c.retrievalAttempts }
func (c *EnvConfig) DemoFallback() bool              { return c.demoFallback }
func (c *EnvConfig) DemoDelay() time.Duration        { return c.demoDelay }
func (c *EnvConfig) DemoMediaPath() string           { return c.demoMediaPath }
func (c *EnvConfig) StreamFallback() bool            { return c.streamFallback }
func (c *EnvConfig) DirectFallback() bool            { return c.directFallback }
func (c *EnvConfig) CleanupOnReset() bool            { return c.cleanupOnReset }
func (c *EnvConfig) Headless() bool                  { return c.headless }
func (c *EnvConfig) AllowedOrigins() []string         { return c.origins }

// Source returns the config file that was applied, or "".
func (c *EnvConfig) Source() string {
	return c.source
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
