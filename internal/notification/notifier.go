// Package notification pushes confirmed safety events to staff devices over
// shoutrrr service URLs (ntfy, telegram, gotify and friends).
package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/logging"
)

const sendTimeout = 10 * time.Second

// Notifier sends titled messages through one shoutrrr router covering all
// configured service URLs.
type Notifier struct {
	urls   []string
	sender *router.ServiceRouter
	logger *slog.Logger
}

// NewNotifier builds a notifier, or nil when notifications are disabled. URL
// validation happens here so misconfiguration fails at startup, not on the
// first incident.
func NewNotifier(cfg conf.NotificationSettings) (*Notifier, error) {
	if !cfg.Enabled || len(cfg.URLs) == 0 {
		return nil, nil
	}

	sender, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		return nil, fmt.Errorf("invalid notification URLs: %w", err)
	}
	sender.Timeout = sendTimeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	logger := logging.ForService("notification")
	if logger == nil {
		logger = slog.Default().With("service", "notification")
	}
	return &Notifier{
		urls:   slices.Clone(cfg.URLs),
		sender: sender,
		logger: logger,
	}, nil
}

// Send delivers one message to every configured service. The first failing
// service's error is returned; the rest still receive the message.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	_ = ctx // the router applies its own timeout

	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	errs := n.sender.Send(message, &params)
	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("notification send failed: %w", err)
		}
	}
	n.logger.Debug("notification sent", "services", len(n.urls))
	return nil
}
