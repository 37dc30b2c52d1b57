package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	pl "github.com/panyam/passlink"
)

const (
	githubUserURL   = "https://api.github.com/user"
	githubEmailsURL = "https://api.github.com/user/emails"
)

func NewGithubOAuth2(clientId, clientSecret, callbackUrl string, handleUser HandleUserFunc) *Provider {
	config := oauth2.Config{
		ClientID:     clientId,
		ClientSecret: clientSecret,
		RedirectURL:  callbackUrl,
		Scopes:       []string{"read:user", "user:email"},
		Endpoint:     github.Endpoint,
	}
	out := NewProvider("github", config, githubUserURL, parseGithubProfile, handleUser)
	out.EmailsURL = githubEmailsURL
	out.fillProfile = fillGithubEmail
	return out
}

func parseGithubProfile(info map[string]any) (pl.OAuthProfile, error) {
	id := stringField(info, "id")
	if id == "" {
		return pl.OAuthProfile{}, fmt.Errorf("github user info has no id")
	}
	name := stringField(info, "name")
	if name == "" {
		name = stringField(info, "login")
	}
	return pl.OAuthProfile{
		ProviderID:  id,
		Email:       stringField(info, "email"),
		DisplayName: name,
		Username:    stringField(info, "login"),
		ImageURL:    stringField(info, "avatar_url"),
	}, nil
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// fillGithubEmail only trusts addresses GitHub reports as verified. A
// verified public email is kept, otherwise the verified primary one is used.
func fillGithubEmail(ctx context.Context, p *Provider, token *oauth2.Token, profile *pl.OAuthProfile) error {
	body, err := p.getJSON(ctx, token, p.EmailsURL)
	if err != nil {
		return err
	}
	var emails []githubEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return fmt.Errorf("failed to parse github emails: %w", err)
	}
	public, primary := "", ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if profile.Email != "" && strings.EqualFold(e.Email, profile.Email) {
			public = e.Email
		}
		if e.Primary {
			primary = e.Email
		}
	}
	switch {
	case public != "":
		profile.Email = public
	case primary != "":
		profile.Email = primary
	default:
		profile.Email = ""
		return fmt.Errorf("github account has no verified primary email")
	}
	return nil
}
