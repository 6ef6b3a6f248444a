package oauth2

import (
	"context"
	"fmt"

	"github.com/panyam/authgate"
	"golang.org/x/oauth2/google"
)

type GoogleProvider struct {
	*BaseProvider

	// UserInfoURL defaults to the OpenID Connect userinfo endpoint
	UserInfoURL string
}

type googleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func NewGoogleProvider(clientId string, clientSecret string, callbackUrl string) *GoogleProvider {
	return &GoogleProvider{
		BaseProvider: NewBaseProvider(authgate.ProviderGoogle, clientId, clientSecret, callbackUrl,
			google.Endpoint,
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		),
		UserInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
	}
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*authgate.ExternalProfile, error) {
	token, err := g.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}

	var user googleUser
	if err := g.getJSON(ctx, token, g.UserInfoURL, &user); err != nil {
		return nil, err
	}
	if user.Sub == "" {
		return nil, fmt.Errorf("%w: google user has no subject", authgate.ErrProviderUnavailable)
	}

	profile := g.profileFromToken(token)
	profile.ID = user.Sub
	profile.Name = user.Name
	profile.Picture = user.Picture
	// an unverified address must not be trusted for linking
	if user.EmailVerified {
		profile.Email = user.Email
	}
	return profile, nil
}
