// Package notify tells operators about proposals that need review.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/proposal"
)

// Slack posts new pending proposals to a channel.
type Slack struct {
	api     *slack.Client
	channel string
}

// NewSlack builds a notifier from cfg. It returns nil, nil when Slack is
// not configured.
func NewSlack(cfg config.NotifyConfig, client *http.Client) (*Slack, error) {
	token := strings.TrimSpace(cfg.SlackToken)
	channel := strings.TrimSpace(cfg.SlackChannel)
	if token == "" && channel == "" {
		return nil, nil
	}
	if token == "" || channel == "" {
		return nil, errors.New("slack notify needs both token and channel")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimSpace(cfg.SlackAPIURL)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"
	return &Slack{
		api:     slack.New(token, slack.OptionHTTPClient(client), slack.OptionAPIURL(base)),
		channel: channel,
	}, nil
}

// ProposalCreated posts a review card for p.
func (s *Slack) ProposalCreated(ctx context.Context, p *proposal.Proposal) error {
	text := fmt.Sprintf("Agent %s proposes %s: %s", p.AgentID, p.Tool, p.Description)
	body := fmt.Sprintf("*%s* wants to run `%s`\n%s", p.AgentID, p.Tool, p.Description)
	if p.Diff != "" {
		body += "\n```" + truncate(p.Diff, 2500) + "```"
	}
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("Proposal `%s` expires %s. Approve with `siteagent proposals approve %s`.",
					p.ID, p.ExpiresAt.Format(time.RFC1123), p.ID), false, false)),
	}
	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n..."
}
