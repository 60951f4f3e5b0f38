// Package slackconn implements the Slack intake connector: a slash command
// opens the request modal, submissions are handed to the intake handler as
// raw payloads, and outbound sends post plain messages.
package slackconn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/ticketbridge-io/ticketbridge/internal/connector"
)

// intakeCallbackID tags the modal so submissions can be matched back.
const intakeCallbackID = "intake_form"

// Config holds Slack connector configuration.
type Config struct {
	BotToken     string // xoxb-... Bot User OAuth Token
	AppToken     string // xapp-... App-Level Token (for Socket Mode)
	SlashCommand string // e.g. "/data-ticket"
	Form         FormOptions
}

// FormOptions drives the intake modal layout.
type FormOptions struct {
	Title           string
	Greeting        string
	TitlePrompt     string
	LinkPrompt      string
	DetailsPrompt   string
	DueDatePrompt   string
	MinDaysUntilDue int
	Categories      map[string]string // option value → display text
}

// Connector implements connector.Connector for Slack via Socket Mode.
type Connector struct {
	api     *slack.Client
	socket  *socketmode.Client
	config  Config
	handler connector.SubmissionHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	botID   string
}

// New creates a new Slack connector.
func New(cfg Config, handler connector.SubmissionHandler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}
	if cfg.SlashCommand == "" {
		return nil, fmt.Errorf("slack: slash_command is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	// Test auth and get bot user ID
	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	socket := socketmode.New(api)

	return &Connector{
		api:     api,
		socket:  socket,
		config:  cfg,
		handler: handler,
		logger:  logger,
		botID:   authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)", "command", c.config.SlashCommand)
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send posts message text to a channel or user.
func (c *Connector) Send(ctx context.Context, destination, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, destination, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}

// UserProfile returns the display name and email for a Slack user ID.
func (c *Connector) UserProfile(ctx context.Context, userID string) (name, email string, err error) {
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("slack: user info %s: %w", userID, err)
	}
	return profileName(u), u.Profile.Email, nil
}

// profileName prefers the display name; users who never set one still have
// the real name from their workspace profile.
func profileName(u *slack.User) string {
	if u.Profile.DisplayName != "" {
		return u.Profile.DisplayName
	}
	return u.RealName
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			switch event.Type {
			case socketmode.EventTypeSlashCommand:
				c.handleSlashCommand(ctx, event)
			case socketmode.EventTypeInteractive:
				c.handleInteractive(ctx, event)
			}
		}
	}
}

func (c *Connector) handleSlashCommand(ctx context.Context, event socketmode.Event) {
	cmd, ok := event.Data.(slack.SlashCommand)
	if !ok {
		return
	}

	c.socket.Ack(*event.Request)

	if !strings.EqualFold(cmd.Command, c.config.SlashCommand) {
		return
	}

	view := BuildIntakeView(c.config.Form, time.Now())
	if _, err := c.api.OpenViewContext(ctx, cmd.TriggerID, view); err != nil {
		c.logger.Error("slack open intake modal",
			"command", cmd.Command,
			"user", cmd.UserID,
			"error", err,
		)
	}
}

func (c *Connector) handleInteractive(ctx context.Context, event socketmode.Event) {
	callback, ok := event.Data.(slack.InteractionCallback)
	if !ok {
		return
	}

	// Ack immediately so Slack closes the modal; record creation happens
	// off the events loop.
	c.socket.Ack(*event.Request)

	if !isIntakeSubmission(callback) {
		return
	}

	payload, err := submissionPayload(event.Request.Payload)
	if err != nil {
		c.logger.Error("slack decode submission", "user", callback.User.ID, "error", err)
		return
	}

	sub := connector.Submission{
		UserID:  callback.User.ID,
		Payload: payload,
	}

	go func() {
		if err := c.handler(ctx, sub); err != nil {
			c.logger.Error("slack submission handler error",
				"user", sub.UserID,
				"error", err,
			)
		}
	}()
}

// isIntakeSubmission reports whether an interaction is a submission of the
// intake modal. Other interactions (button clicks, other modals) are acked
// and dropped.
func isIntakeSubmission(cb slack.InteractionCallback) bool {
	return cb.Type == slack.InteractionTypeViewSubmission && cb.View.CallbackID == intakeCallbackID
}

// submissionPayload decodes the raw interaction body into a generic map so
// the translator sees the platform's own field names, not our types.
func submissionPayload(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("slack: empty interaction payload")
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("slack: decode interaction payload: %w", err)
	}
	return payload, nil
}
