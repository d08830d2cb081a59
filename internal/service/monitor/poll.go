package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

// maxTokenRefreshes bounds how often one pair may re-authenticate in a row
// before the expiry response is handled like any other failure.
const maxTokenRefreshes = 3

// poll authenticates once, then sweeps every (license type, exam center)
// pair of the current configuration until ctx is cancelled. It only
// returns early when no token can be obtained.
func (m *Monitor) poll(ctx context.Context) error {
	token, err := m.client.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	for {
		cfg := m.Config()
		for _, licenseType := range cfg.LicenseTypes {
			for _, center := range cfg.ExamCenterIDs {
				token, err = m.checkScope(ctx, token, center, licenseType)
				if err != nil {
					return err
				}
				if err := m.sleep(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// checkScope runs one availability check and handles its outcome. It
// returns the token to use from now on.
func (m *Monitor) checkScope(ctx context.Context, token *oauth2.Token, center int, licenseType string) (*oauth2.Token, error) {
	logger := slog.With("center", model.ExamCenterName(center), "license_type", licenseType)

	for refreshes := 0; ; refreshes++ {
		logger.Debug("checking for new time slots")
		resp, err := m.client.Check(ctx, token, center, licenseType)
		if err != nil {
			if ctx.Err() != nil {
				return token, ctx.Err()
			}
			logger.Error("availability check failed", "error", err)
			return token, nil
		}

		if resp.TokenExpired() && refreshes < maxTokenRefreshes {
			logger.Info("sbat token expired, re-authenticating")
			token, err = m.client.Reauthenticate(ctx)
			if err != nil {
				return nil, fmt.Errorf("re-authenticate: %w", err)
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			logger.Warn("unexpected availability status", "status", resp.StatusCode)
			m.notifier.Alert(ctx, fmt.Sprintf(
				"Got unknown %d error for license type '%s' at exam center '%s'. WWW-Authenticate: %q. Response body: %s",
				resp.StatusCode, licenseType, model.ExamCenterName(center),
				resp.Header.Get("WWW-Authenticate"), resp.Body))
			return token, nil
		}

		slots, err := resp.Slots()
		if err != nil {
			logger.Error("failed to decode availability", "error", err)
			return token, nil
		}
		logger.Debug("availability received", "slots", len(slots))

		if err := m.reconcile(ctx, center, licenseType, slots); err != nil {
			logger.Error("failed to reconcile time slots", "error", err)
		}
		return token, nil
	}
}

// sleep waits out the configured interval, read fresh so a reconfigure
// takes effect before the next pair.
func (m *Monitor) sleep(ctx context.Context) error {
	d := time.Duration(m.Config().SecondsInbetween) * m.tick
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
