package config

import (
	"time"

	"github.com/raaihank/pdf-slicer/internal/mailer"
	"github.com/raaihank/pdf-slicer/internal/slicer"
)

// Config represents the main configuration structure
type Config struct {
	Input      InputConfig            `yaml:"input" mapstructure:"input"`
	Mail       MailConfig             `yaml:"mail" mapstructure:"mail"`
	SMTP       mailer.SMTPConfig      `yaml:"smtp" mapstructure:"smtp"`
	Throttle   mailer.ThrottleConfig  `yaml:"throttle" mapstructure:"throttle"`
	Recipients []slicer.RecipientRule `yaml:"recipients" mapstructure:"recipients"`
	Logging    LoggingConfig          `yaml:"logging" mapstructure:"logging"`
}

// InputConfig controls where documents are read and how pages are processed
type InputConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Workers int    `yaml:"workers" mapstructure:"workers"` // <= 0 means unlimited
}

// MailConfig contains the dispatch mail settings
type MailConfig struct {
	Domain       string `yaml:"domain" mapstructure:"domain"`
	Subject      string `yaml:"subject" mapstructure:"subject"`
	Body         string `yaml:"body" mapstructure:"body"`
	Sender       string `yaml:"sender" mapstructure:"sender"` // e.g. "Name Surname" <name.surname@example.com>
	AdminEmail   string `yaml:"admin_email" mapstructure:"admin_email"`
	ConfirmToken string `yaml:"confirm_token" mapstructure:"confirm_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
		Path       string `yaml:"path" mapstructure:"path"`
		MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
		MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
		Compress   bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// SlicerConfig derives the pipeline configuration
func (c *Config) SlicerConfig() *slicer.Config {
	return &slicer.Config{
		EmailDomain:     c.Mail.Domain,
		SubjectTemplate: c.Mail.Subject,
		BodyTemplate:    c.Mail.Body,
		Workers:         c.Input.Workers,
	}
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Input: InputConfig{
			Dir:     "./pdfs",
			Workers: 8,
		},
		Mail: MailConfig{
			Subject:      "Your document",
			Body:         "Hello {{.Name}},\n\nplease find {{.Attachment}} attached.\n",
			ConfirmToken: "y",
		},
		SMTP: mailer.SMTPConfig{
			Port:    587,
			Timeout: 30 * time.Second,
		},
		Throttle: mailer.DefaultThrottle,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
	cfg.Logging.File.Enabled = true
	cfg.Logging.File.Path = "logs/pdf-slicer.log"
	cfg.Logging.File.MaxSize = 10 // MB
	cfg.Logging.File.MaxAge = 30  // days
	cfg.Logging.File.MaxBackups = 10
	cfg.Logging.File.Compress = true
	return cfg
}
