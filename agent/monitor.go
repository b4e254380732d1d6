package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMonitorInterval is the session-check polling interval.
const DefaultMonitorInterval = 30 * time.Second

// MonitorSession polls the provider's check-session endpoint on the given
// interval until ctx is cancelled. Each poll is bounded by a timeout
// shorter than the interval, so a slow provider can never back polls up
// behind each other or block an in-flight API call.
//
// Only an authoritative "session gone" answer transitions the agent to
// SessionExpired; a failed poll is treated as unknown, so a transient
// network failure does not produce a false logout.
func (a *Agent) MonitorSession(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.State() != StateAuthenticated {
				continue
			}
			active, known := a.checkSession(ctx, interval/2)
			if known && !active {
				log.Info().Msg("provider session gone; clearing local tokens")
				a.invalidate(StateSessionExpired)
			}
		}
	}
}

// checkSession asks the provider whether the session is still alive. The
// second return value reports whether the answer is authoritative.
func (a *Agent) checkSession(ctx context.Context, timeout time.Duration) (active, known bool) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, a.cfg.IssuerURL+"/connect/checksession", nil)
	if err != nil {
		return false, false
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("session check poll failed; treating as unknown")
		return false, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Msg("session check returned unexpected status; treating as unknown")
		return false, false
	}

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, false
	}
	return body.Active, true
}
