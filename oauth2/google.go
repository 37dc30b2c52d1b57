package oauth2

import (
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	pl "github.com/panyam/passlink"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

func NewGoogleOAuth2(clientId, clientSecret, callbackUrl string, handleUser HandleUserFunc) *Provider {
	config := oauth2.Config{
		ClientID:     clientId,
		ClientSecret: clientSecret,
		RedirectURL:  callbackUrl,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
	return NewProvider("google", config, googleUserInfoURL, parseGoogleProfile, handleUser)
}

func parseGoogleProfile(info map[string]any) (pl.OAuthProfile, error) {
	id := stringField(info, "id")
	if id == "" {
		return pl.OAuthProfile{}, fmt.Errorf("google user info has no id")
	}
	if _, ok := info["verified_email"]; ok && !boolField(info, "verified_email") {
		return pl.OAuthProfile{}, fmt.Errorf("google email is not verified")
	}
	return pl.OAuthProfile{
		ProviderID:  id,
		Email:       stringField(info, "email"),
		DisplayName: stringField(info, "name"),
		ImageURL:    stringField(info, "picture"),
	}, nil
}
