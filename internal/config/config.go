package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/pdf-slicer/internal/slicer"
)

// EnvPrefix is the prefix of environment variable overrides
const EnvPrefix = "PDFSLICER"

// Load loads configuration from file and environment variables. It returns
// the config and the path of the file it was read from, which is empty when
// only defaults and environment were used.
func Load(configPath string) (*Config, string, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Seed viper with the defaults so every key can be overridden from env
	defaults, err := yaml.Marshal(GetDefaults())
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, "", fmt.Errorf("failed to load defaults: %w", err)
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("$HOME/.pdf-slicer/")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.MergeInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}

	return config, v.ConfigFileUsed(), nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Input.Dir == "" {
		return fmt.Errorf("input dir must not be empty")
	}

	if err := slicer.ValidateRules(config.Recipients); err != nil {
		return err
	}

	for _, rule := range config.Recipients {
		if rule.Contact == "" && config.Mail.Domain == "" {
			return fmt.Errorf("mail domain is required: recipient %q has no email", rule.Keyword)
		}
	}

	if len(config.Recipients) > 0 {
		if config.Mail.Sender == "" {
			return fmt.Errorf("mail sender is required")
		}
		if config.SMTP.Host == "" {
			return fmt.Errorf("smtp host is required")
		}
	}

	if config.Mail.ConfirmToken == "" {
		return fmt.Errorf("confirm token must not be empty")
	}

	if config.SMTP.Port <= 0 || config.SMTP.Port > 65535 {
		return fmt.Errorf("invalid smtp port: %d", config.SMTP.Port)
	}

	if config.Throttle.MaxConcurrent < 1 {
		return fmt.Errorf("invalid throttle max_concurrent: %d (must be at least 1)", config.Throttle.MaxConcurrent)
	}

	if config.Throttle.MinInterval < 0 {
		return fmt.Errorf("invalid throttle min_interval: %s", config.Throttle.MinInterval)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch reports writes to the configuration file until ctx is done. A run
// keeps the rules it loaded; callers only get to know the file changed.
// Watcher errors go to onError when it is set.
func Watch(ctx context.Context, path string, onChange func(fsnotify.Event), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory: editors replace files instead of writing them
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		watchLoop(ctx, filepath.Clean(path), watcher.Events, watcher.Errors, onChange, onError)
	}()

	return nil
}

func watchLoop(ctx context.Context, target string, events <-chan fsnotify.Event, errs <-chan error, onChange func(fsnotify.Event), onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				onChange(event)
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// WriteExample writes the defaults plus a sample recipient as YAML
func WriteExample() ([]byte, error) {
	cfg := GetDefaults()
	cfg.Mail.Domain = "example.com"
	cfg.Mail.Sender = `"Payroll" <payroll@example.com>`
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.Username = "payroll@example.com"
	cfg.Recipients = []slicer.RecipientRule{
		{Keyword: "Alice Smith", Password: "change-me"},
		{Keyword: "Bob", Contact: "bob@elsewhere.example"},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
