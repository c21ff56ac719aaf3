package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// messageRouter is the slice of shoutrrr's ServiceRouter used by the sender;
// narrowed so tests can capture the dispatched params.
type messageRouter interface {
	Send(message string, params *types.Params) []error
}

// ShoutrrrSender delivers messages through one or more shoutrrr service URLs
// (for example an smtp:// URL for email).
type ShoutrrrSender struct {
	router messageRouter
}

// NewShoutrrrSender builds a sender from service URLs, validating them up
// front.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one notification URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create notification sender: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSender{router: sender}, nil
}

// Send implements Sender. The per-message recipient overrides whatever
// address the service URL was configured with, so results reach the patient
// contact of the request, not a fixed inbox.
func (s *ShoutrrrSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := types.Params{"title": msg.Subject}
	if msg.To != "" {
		params["toaddresses"] = msg.To
	}
	sendErrs := s.router.Send(msg.Body, &params)

	var errs []error
	for _, err := range sendErrs {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
