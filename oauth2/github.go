package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/panyam/authgate"
	"golang.org/x/oauth2/github"
)

type GithubProvider struct {
	*BaseProvider

	// UserInfoURL is the URL to fetch user info from. Defaults to GitHub's API.
	// Can be overridden for testing.
	UserInfoURL string

	// EmailsURL lists the user's addresses. Only the primary verified one is
	// trusted; the public profile email is not checked by GitHub.
	EmailsURL string
}

type githubUser struct {
	ID        json.Number `json:"id"`
	Login     string      `json:"login"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	AvatarURL string      `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func NewGithubProvider(clientId string, clientSecret string, callbackUrl string) *GithubProvider {
	return &GithubProvider{
		BaseProvider: NewBaseProvider(authgate.ProviderGithub, clientId, clientSecret, callbackUrl,
			github.Endpoint, "read:user", "user:email"),
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
	}
}

func (g *GithubProvider) Exchange(ctx context.Context, code string) (*authgate.ExternalProfile, error) {
	token, err := g.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}

	var user githubUser
	if err := g.getJSON(ctx, token, g.UserInfoURL, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: github user has no id", authgate.ErrProviderUnavailable)
	}

	profile := g.profileFromToken(token)
	profile.ID = user.ID.String()
	profile.Name = user.Name
	if profile.Name == "" {
		profile.Name = user.Login
	}
	profile.Picture = user.AvatarURL

	var emails []githubEmail
	if err := g.getJSON(ctx, token, g.EmailsURL, &emails); err != nil {
		slog.WarnContext(ctx, "could not list github emails", "err", err)
	}
	profile.Email = primaryEmail(emails)
	if profile.Email == "" && user.Email != "" {
		slog.InfoContext(ctx, "ignoring unverified github profile email", "github_id", profile.ID)
	}
	return profile, nil
}

func primaryEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}
