package models

import (
	"encoding/json"
	"fmt"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Global    GlobalConfig    `yaml:"global" json:"global"`
	Recon     ReconConfig     `yaml:"recon" json:"recon"`
	Inference InferenceConfig `yaml:"inference" json:"inference"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Reporting ReportingConfig `yaml:"reporting" json:"reporting"`
}

type GlobalConfig struct {
	LogLevel           string        `yaml:"log_level" json:"log_level"`
	MaxConcurrentScans int           `yaml:"max_concurrent_scans" json:"max_concurrent_scans"`
	ScanTimeout        time.Duration `yaml:"scan_timeout" json:"scan_timeout"`
	MappingConcurrency int           `yaml:"mapping_concurrency" json:"mapping_concurrency"`
	UserAgent          string        `yaml:"user_agent" json:"user_agent"`
	DataDir            string        `yaml:"data_dir" json:"data_dir"`
}

type ReconConfig struct {
	SubdomainLabels  []string      `yaml:"subdomain_labels" json:"subdomain_labels"`
	Ports            []int         `yaml:"ports" json:"ports"`
	SubdomainTimeout time.Duration `yaml:"subdomain_timeout" json:"subdomain_timeout"`
	PortTimeout      time.Duration `yaml:"port_timeout" json:"port_timeout"`
	Concurrency      int           `yaml:"concurrency" json:"concurrency"`
	DNS              DNSConfig     `yaml:"dns" json:"dns"`
	HTTP             HTTPConfig    `yaml:"http" json:"http"`
	Whois            WhoisConfig   `yaml:"whois" json:"whois"`
}

type DNSConfig struct {
	Nameservers   []string      `yaml:"nameservers" json:"nameservers"`
	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	MaxRedirects int           `yaml:"max_redirects" json:"max_redirects"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
}

type WhoisConfig struct {
	Command string        `yaml:"command" json:"command"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type InferenceConfig struct {
	Endpoint  string        `yaml:"endpoint" json:"endpoint"`
	Model     string        `yaml:"model" json:"model"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	RateLimit float64       `yaml:"rate_limit" json:"rate_limit"`
	Burst     int           `yaml:"burst" json:"burst"`
	CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

type StorageConfig struct {
	Driver      string        `yaml:"driver" json:"driver"`
	DSN         string        `yaml:"dsn" json:"dsn"`
	ArchiveDir  string        `yaml:"archive_dir" json:"archive_dir"`
	Compression bool          `yaml:"compression" json:"compression"`
	Retention   time.Duration `yaml:"retention" json:"retention"`
}

type ServerConfig struct {
	Host        string        `yaml:"host" json:"host"`
	Port        int           `yaml:"port" json:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
	EventBuffer int           `yaml:"event_buffer" json:"event_buffer"`
	ReleaseMode bool          `yaml:"release_mode" json:"release_mode"`
}

type ReportingConfig struct {
	Formats   []string `yaml:"formats" json:"formats"`
	OutputDir string   `yaml:"output_dir" json:"output_dir"`
}

var DefaultSubdomainLabels = []string{
	"www", "mail", "ftp", "admin", "api", "dev", "staging", "test", "blog", "shop",
	"app", "portal", "vpn", "remote", "cdn", "static", "m", "mobile", "secure", "login",
	"dashboard", "beta", "docs", "support", "status", "git", "ns1", "ns2", "smtp", "webmail",
}

var DefaultPorts = []int{
	21, 22, 23, 25, 53, 80, 110, 143, 443, 445,
	993, 995, 1433, 3306, 3389, 5432, 6379, 8080, 8443, 27017,
}

func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			LogLevel:           "info",
			MaxConcurrentScans: 5,
			ScanTimeout:        30 * time.Minute,
			MappingConcurrency: 4,
			UserAgent:          "ThreatLynx/1.0",
			DataDir:            "./data",
		},
		Recon: ReconConfig{
			SubdomainLabels:  append([]string(nil), DefaultSubdomainLabels...),
			Ports:            append([]int(nil), DefaultPorts...),
			SubdomainTimeout: 5 * time.Second,
			PortTimeout:      3 * time.Second,
			Concurrency:      20,
			DNS: DNSConfig{
				Nameservers:   []string{"8.8.8.8", "1.1.1.1"},
				RetryAttempts: 2,
				Timeout:       5 * time.Second,
			},
			HTTP: HTTPConfig{
				Timeout:      10 * time.Second,
				MaxRedirects: 5,
				UserAgent:    "Mozilla/5.0 (compatible; ThreatLynx/1.0)",
			},
			Whois: WhoisConfig{
				Command: "whois",
				Timeout: 15 * time.Second,
			},
		},
		Inference: InferenceConfig{
			Model:     "llama3.1",
			Timeout:   45 * time.Second,
			RateLimit: 2,
			Burst:     4,
			CacheTTL:  10 * time.Minute,
		},
		Storage: StorageConfig{
			Driver:      "memory",
			ArchiveDir:  "./data/archive",
			Compression: true,
			Retention:   30 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			ReadTimeout: 30 * time.Second,
			EventBuffer: 64,
		},
		Reporting: ReportingConfig{
			Formats:   []string{"json"},
			OutputDir: "./reports",
		},
	}
}

func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Global.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, "global.log_level must be one of trace|debug|info|warn|error|fatal|panic")
	}
	if c.Global.MaxConcurrentScans <= 0 {
		errs = append(errs, "global.max_concurrent_scans must be > 0")
	}
	if c.Global.ScanTimeout <= 0 {
		errs = append(errs, "global.scan_timeout must be > 0")
	}
	if c.Global.MappingConcurrency <= 0 {
		errs = append(errs, "global.mapping_concurrency must be > 0")
	}

	if len(c.Recon.SubdomainLabels) == 0 {
		errs = append(errs, "recon.subdomain_labels must not be empty")
	}
	for _, p := range c.Recon.Ports {
		if p <= 0 || p > 65535 {
			errs = append(errs, fmt.Sprintf("recon.ports: %d is out of range", p))
		}
	}
	if c.Recon.SubdomainTimeout <= 0 || c.Recon.PortTimeout <= 0 {
		errs = append(errs, "recon.{subdomain_timeout,port_timeout} must be > 0")
	}
	if c.Recon.Concurrency <= 0 {
		errs = append(errs, "recon.concurrency must be > 0")
	}
	if c.Recon.DNS.Timeout <= 0 {
		errs = append(errs, "recon.dns.timeout must be > 0")
	}
	if c.Recon.DNS.RetryAttempts < 0 {
		errs = append(errs, "recon.dns.retry_attempts must be >= 0")
	}
	if c.Recon.HTTP.Timeout <= 0 {
		errs = append(errs, "recon.http.timeout must be > 0")
	}
	if c.Recon.HTTP.MaxRedirects < 0 {
		errs = append(errs, "recon.http.max_redirects must be >= 0")
	}
	if c.Recon.Whois.Timeout <= 0 {
		errs = append(errs, "recon.whois.timeout must be > 0")
	}

	if c.Inference.Timeout <= 0 {
		errs = append(errs, "inference.timeout must be > 0")
	}
	if c.Inference.RateLimit < 0 || c.Inference.Burst < 0 {
		errs = append(errs, "inference.{rate_limit,burst} must be >= 0")
	}
	if c.Inference.Endpoint != "" && c.Inference.Model == "" {
		errs = append(errs, "inference.model must be set when an endpoint is configured")
	}

	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Storage.DSN == "" {
			errs = append(errs, "storage.dsn must be set when storage.driver is mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Storage.Retention < 0 {
		errs = append(errs, "storage.retention must be >= 0")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be in 1..65535")
	}
	if c.Server.EventBuffer <= 0 {
		errs = append(errs, "server.event_buffer must be > 0")
	}

	for _, f := range c.Reporting.Formats {
		switch f {
		case "json", "yaml":
		default:
			errs = append(errs, fmt.Sprintf("reporting.format %q is not supported", f))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	}

	return c.Validate()
}
