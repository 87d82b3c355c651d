package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/pdf-slicer/internal/report"
	"github.com/raaihank/pdf-slicer/internal/slicer"
)

// DefaultConfirmToken is the only answer that triggers sending
const DefaultConfirmToken = "y"

// State is the position of the gate in its lifecycle
type State int

const (
	AwaitingConfirmation State = iota
	Sending
	Skipped
	Completed
)

func (s State) String() string {
	switch s {
	case AwaitingConfirmation:
		return "awaiting-confirmation"
	case Sending:
		return "sending"
	case Skipped:
		return "skipped"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case AwaitingConfirmation:
		return to == Sending || to == Skipped
	case Sending:
		return to == Completed
	default:
		return false
	}
}

// Sender delivers one mail. *mailer.Mailer satisfies it.
type Sender interface {
	SendMail(ctx context.Context, to, subject, body, attachmentName, attachmentPath string) error
}

// Config contains gate configuration
type Config struct {
	ConfirmToken string `yaml:"confirm_token" mapstructure:"confirm_token"`
	AdminEmail   string `yaml:"admin_email" mapstructure:"admin_email"`
}

// Summary is what the gate did
type Summary struct {
	State  State
	Sent   int
	Failed int
}

// Gate shows the report, waits for confirmation and fans out the sends
type Gate struct {
	prompter Prompter
	sender   Sender
	out      io.Writer
	config   Config
	logger   *zap.Logger
	state    State
}

// NewGate creates a new dispatch gate
func NewGate(prompter Prompter, sender Sender, out io.Writer, config Config, logger *zap.Logger) *Gate {
	if config.ConfirmToken == "" {
		config.ConfirmToken = DefaultConfirmToken
	}
	return &Gate{
		prompter: prompter,
		sender:   sender,
		out:      out,
		config:   config,
		logger:   logger,
		state:    AwaitingConfirmation,
	}
}

// State returns the current gate state
func (g *Gate) State() State {
	return g.state
}

func (g *Gate) transition(to State) error {
	if !isAllowedTransition(g.state, to) {
		return fmt.Errorf("disallowed gate transition: %s -> %s", g.state, to)
	}
	g.logger.Debug("Gate transition", zap.Stringer("from", g.state), zap.Stringer("to", to))
	g.state = to
	return nil
}

// Run presents rep, asks for confirmation and, on the exact confirm token,
// sends every record concurrently through the sender and waits for all of
// them. Send failures are counted, never returned.
func (g *Gate) Run(ctx context.Context, rep *report.Report, records []slicer.DispatchRecord) (*Summary, error) {
	if g.state != AwaitingConfirmation {
		return nil, fmt.Errorf("gate already used (state %s)", g.state)
	}

	g.logger.Info(rep.Headline())
	fmt.Fprintln(g.out, rep.Headline()+":")
	rep.Render(g.out)

	answer, err := g.prompter.Ask(ctx, fmt.Sprintf("Send %d mails (%s/n)? ", len(records), g.config.ConfirmToken))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read confirmation: %w", err)
	}

	if err != nil || answer != g.config.ConfirmToken {
		if err := g.transition(Skipped); err != nil {
			return nil, err
		}
		fmt.Fprintln(g.out, "Skipping sending mails (user did not confirm)")
		g.logger.Info("Dispatch skipped", zap.Int("records", len(records)))
		return &Summary{State: Skipped}, nil
	}

	if err := g.transition(Sending); err != nil {
		return nil, err
	}
	fmt.Fprintln(g.out, "Sending mails ...")

	var sent, failed int64
	var eg errgroup.Group
	for _, record := range records {
		eg.Go(func() error {
			err := g.sender.SendMail(ctx, record.Email, record.Subject, record.Body, record.AttachmentName, record.AttachmentPath)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				return nil
			}
			atomic.AddInt64(&sent, 1)
			return nil
		})
	}
	_ = eg.Wait()

	if err := g.transition(Completed); err != nil {
		return nil, err
	}
	summary := &Summary{State: Completed, Sent: int(sent), Failed: int(failed)}

	g.logger.Info("Dispatch completed", zap.Int("sent", summary.Sent), zap.Int("failed", summary.Failed))
	fmt.Fprintf(g.out, "Mails sent (%d ok, %d failed). Done.\n", summary.Sent, summary.Failed)

	g.notifyAdmin(ctx, rep, summary)
	return summary, nil
}

// notifyAdmin mails the report to the configured admin address
func (g *Gate) notifyAdmin(ctx context.Context, rep *report.Report, summary *Summary) {
	if g.config.AdminEmail == "" {
		return
	}

	var body strings.Builder
	fmt.Fprintf(&body, "%s.\n\n", rep.Headline())
	rep.Render(&body)
	fmt.Fprintf(&body, "\nSent: %d\nFailed: %d\n", summary.Sent, summary.Failed)

	subject := fmt.Sprintf("Dispatch summary for %s", filepath.Base(rep.Document))
	if err := g.sender.SendMail(ctx, g.config.AdminEmail, subject, body.String(), "", ""); err != nil {
		g.logger.Warn("Failed to notify admin", zap.String("to", g.config.AdminEmail), zap.Error(err))
	}
}
