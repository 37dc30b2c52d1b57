package oauth2

import (
	"fmt"

	"golang.org/x/oauth2"

	pl "github.com/panyam/passlink"
)

const discordUserInfoURL = "https://discord.com/api/users/@me"

// DiscordEndpoint is Discord's OAuth2 endpoint
var DiscordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

func NewDiscordOAuth2(clientId, clientSecret, callbackUrl string, handleUser HandleUserFunc) *Provider {
	config := oauth2.Config{
		ClientID:     clientId,
		ClientSecret: clientSecret,
		RedirectURL:  callbackUrl,
		Scopes:       []string{"identify", "email"},
		Endpoint:     DiscordEndpoint,
	}
	return NewProvider("discord", config, discordUserInfoURL, parseDiscordProfile, handleUser)
}

func parseDiscordProfile(info map[string]any) (pl.OAuthProfile, error) {
	id := stringField(info, "id")
	if id == "" {
		return pl.OAuthProfile{}, fmt.Errorf("discord user info has no id")
	}
	if _, ok := info["verified"]; ok && !boolField(info, "verified") {
		return pl.OAuthProfile{}, fmt.Errorf("discord email is not verified")
	}
	name := stringField(info, "global_name")
	if name == "" {
		name = stringField(info, "username")
	}
	profile := pl.OAuthProfile{
		ProviderID:  id,
		Email:       stringField(info, "email"),
		DisplayName: name,
		Username:    stringField(info, "username"),
	}
	if avatar := stringField(info, "avatar"); avatar != "" {
		profile.ImageURL = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", id, avatar)
	}
	return profile, nil
}
