// Command agent drives the implicit flow end to end as a headless user
// agent: it walks the authorize redirect, submits the login form, hands the
// returned fragment to the agent and calls the protected API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"go.oidclab.dev/implicit/agent"
	"go.oidclab.dev/implicit/config"
	"go.oidclab.dev/implicit/internal/logging"
)

func main() {
	username := flag.String("user", "alice", "username to log in with")
	password := flag.String("pass", "password", "password to log in with")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create cookie jar")
	}
	// Redirects are walked by hand: the token fragment only exists in the
	// Location header of the final hop, and http.Client would drop it.
	httpClient := &http.Client{
		Jar:     jar,
		Timeout: 30 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	ag, err := agent.New(agent.Config{
		IssuerURL:             cfg.IssuerURL,
		ClientID:              cfg.ClientID,
		RedirectURI:           cfg.RedirectURI,
		Scope:                 cfg.Scope,
		PostLogoutRedirectURI: cfg.PostLogoutRedirectURI,
		ClockSkew:             time.Duration(cfg.ClockSkewSeconds) * time.Second,
		HTTPClient:            httpClient,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create agent")
	}

	ctx := context.Background()

	fragment, err := runLoginFlow(ctx, httpClient, ag.Login(), cfg.RedirectURI, *username, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("login flow failed")
	}
	if err := ag.HandleCallback(ctx, fragment); err != nil {
		log.Fatal().Err(err).Msg("callback handling failed")
	}
	log.Info().Interface("profile", ag.Profile()).Msg("logged in")

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go ag.MonitorSession(monitorCtx, time.Duration(cfg.MonitorIntervalSec)*time.Second)

	callAndPrint(ctx, ag, cfg.APIBaseURL+"/identity")
	callAndPrint(ctx, ag, cfg.APIBaseURL+"/superpowers")

	if err := ag.Logout(ctx); err != nil {
		log.Error().Err(err).Msg("logout failed")
	}
	log.Info().Str("state", string(ag.State())).Msg("done")
}

func callAndPrint(ctx context.Context, ag *agent.Agent, apiURL string) {
	body, err := ag.CallAPI(ctx, apiURL)
	if err != nil {
		log.Warn().Err(err).Str("url", apiURL).Msg("api call failed")
		return
	}
	fmt.Printf("%s -> %s\n", apiURL, body)
}

// runLoginFlow walks the authorize redirect chain: authorize sends us to
// the login page, the posted form sends us back to the redirect URI with
// tokens in the fragment of the Location header.
func runLoginFlow(ctx context.Context, client *http.Client, authorizeURL, redirectURI, username, password string) (string, error) {
	resp, err := get(ctx, client, authorizeURL)
	if err != nil {
		return "", err
	}
	location := resp.Header.Get("Location")
	if resp.StatusCode != http.StatusFound || location == "" {
		return "", fmt.Errorf("authorize endpoint returned status %d", resp.StatusCode)
	}

	loginURL, err := resolve(authorizeURL, location)
	if err != nil {
		return "", err
	}
	flowID := loginURL.Query().Get("flow")
	if flowID == "" {
		return "", fmt.Errorf("authorize redirect carries no login flow")
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("flow", flowID)

	postURL := *loginURL
	postURL.RawQuery = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err = client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	location = resp.Header.Get("Location")
	if resp.StatusCode != http.StatusFound || location == "" {
		return "", fmt.Errorf("login returned status %d", resp.StatusCode)
	}
	if !strings.HasPrefix(location, redirectURI) {
		return "", fmt.Errorf("login redirected to unexpected target")
	}

	callbackURL, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return callbackURL.Fragment, nil
}

func get(ctx context.Context, client *http.Client, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}

func resolve(base, ref string) (*url.URL, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return baseURL.ResolveReference(refURL), nil
}
