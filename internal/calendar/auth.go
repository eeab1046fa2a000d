package calendar

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"gcalat/internal/log"
)

const calendarReadScope = "https://www.googleapis.com/auth/calendar.readonly"

// clientSecrets mirrors the "installed application" section of a Google
// client-secrets JSON file.
type clientSecrets struct {
	Installed struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		RedirectURIs []string `json:"redirect_uris"`
	} `json:"installed"`
}

// TokenSource returns an auto-refreshing token source for the Calendar
// read scope. The token is cached at tokenPath; when absent, the
// interactive authorization-code flow runs once on the terminal and the
// obtained token is written back. Refreshed tokens are persisted too,
// so a revoked refresh token is the only reason to re-authorize.
func TokenSource(ctx context.Context, credentialsPath, tokenPath string) (oauth2.TokenSource, error) {
	conf, err := loadOAuthConfig(credentialsPath)
	if err != nil {
		return nil, err
	}

	tok, err := readToken(tokenPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		tok, err = authorizeInteractive(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err := writeToken(tokenPath, tok); err != nil {
			return nil, err
		}
	}

	return &persistingSource{
		base: conf.TokenSource(ctx, tok),
		path: tokenPath,
		last: tok.AccessToken,
	}, nil
}

func loadOAuthConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	var cs clientSecrets
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	if cs.Installed.ClientID == "" {
		return nil, errors.New("client secrets file has no installed client_id")
	}
	redirect := "urn:ietf:wg:oauth:2.0:oob"
	if len(cs.Installed.RedirectURIs) > 0 {
		redirect = cs.Installed.RedirectURIs[0]
	}
	return &oauth2.Config{
		ClientID:     cs.Installed.ClientID,
		ClientSecret: cs.Installed.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendarReadScope},
		RedirectURL:  redirect,
	}, nil
}

// authorizeInteractive runs the manual authorization-code exchange:
// print the consent URL, read the code from stdin, exchange it.
func authorizeInteractive(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	url := conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(os.Stderr, "Open the following URL in a browser and authorize access:\n\n  %s\n\nAuthorization code: ", url)

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}
	tok, err := conf.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse cached token: %w", err)
	}
	return &tok, nil
}

func writeToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// persistingSource wraps a refreshing token source and writes each
// newly minted access token back to disk.
type persistingSource struct {
	base oauth2.TokenSource
	path string
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if werr := writeToken(p.path, tok); werr != nil {
			log.Warn("could not persist refreshed token", "path", p.path, "detail", werr)
		}
	}
	return tok, nil
}
