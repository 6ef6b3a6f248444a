package authgate

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Default timeouts for calls that leave the process
const (
	DefaultProviderTimeout = 10 * time.Second
	DefaultEmailTimeout    = 10 * time.Second
)

// User facing messages
const (
	msgAccountExists     = "An account with this email already exists. Please use another email or sign in."
	msgRegistered        = "Registration successful. Please confirm your email, a message has been sent to your address."
	msgUserNotFound      = "User not found. Please check the entered data."
	msgWrongPassword     = "Wrong password. Please try again or reset your password."
	msgEmailNotConfirmed = "Your email is not confirmed. Please check your mail and confirm the address."
	msgCheckEmailForCode = "Check your email. A two factor authentication code is required."
	msgInvalidCode       = "Invalid two factor code."
	msgExpiredCode       = "The two factor code has expired. Please request a new one."
	msgUnknownProvider   = "Unknown identity provider."
	msgProviderRejected  = "The identity provider rejected the sign in."
	msgProviderFailed    = "The identity provider could not be reached."
	msgProviderNoEmail   = "The identity provider did not share an email address."
	msgSessionSave       = "Failed to save the session. Please check the session configuration."
	msgSessionDestroy    = "Failed to end the session. The server may be having trouble or the session was already ended."
	msgNotLoggedIn       = "Not logged in."
	msgTokenNotFound     = "Verification token not found."
	msgTokenExpired      = "Verification token has expired. Please request a new one."
	msgEmailVerified     = "Email confirmed."
	msgDeliveryFailed    = "Could not send the email. Please try again later."
	msgInternal          = "Internal server error."
)

// ErrDeliveryFailed is wrapped by issuers when an email could not be sent
var ErrDeliveryFailed = errors.New("email delivery failed")

// VerificationChallenges issues and checks email ownership tokens
type VerificationChallenges interface {
	Issue(ctx context.Context, email string) (*Challenge, error)
	Validate(ctx context.Context, token string) (email string, result ValidationResult, err error)
}

// SecondFactorChallenges issues and checks emailed login codes
type SecondFactorChallenges interface {
	Issue(ctx context.Context, email string) (*Challenge, error)
	Validate(ctx context.Context, email, code string) (ValidationResult, error)
}

// RegisterInput is a validated registration request
type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// LoginInput is a validated password login request. Code is the emailed
// second factor and may be empty.
type LoginInput struct {
	Email    string
	Password string
	Code     string
}

// Ack is a neutral acknowledgement that carries no session
type Ack struct {
	Message string `json:"message"`
}

// LoginResult is returned by the login flows. Exactly one of Session or
// Ack is set: Ack means a second factor code was sent and no session exists.
type LoginResult struct {
	User    *User
	Session *Session
	Ack     *Ack
}

// TwoFactorRequired reports whether the caller must resubmit with a code
func (r *LoginResult) TwoFactorRequired() bool {
	return r != nil && r.Session == nil && r.Ack != nil
}

// Authenticator decides who a request is and whether it gets a session.
// It holds no mutable state and is safe for concurrent use.
type Authenticator struct {
	Directory    UserDirectory
	Hasher       PasswordHasher
	Sessions     SessionManager
	Providers    *ProviderRegistry
	Verification VerificationChallenges
	SecondFactor SecondFactorChallenges

	ProviderTimeout time.Duration
	EmailTimeout    time.Duration

	Logger *slog.Logger
}

// EnsureDefaults fills in defaults for optional fields
func (a *Authenticator) EnsureDefaults() *Authenticator {
	if a.Hasher == nil {
		a.Hasher = &BcryptHasher{}
	}
	if a.ProviderTimeout <= 0 {
		a.ProviderTimeout = DefaultProviderTimeout
	}
	if a.EmailTimeout <= 0 {
		a.EmailTimeout = DefaultEmailTimeout
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	return a
}

// Register creates a credentials account and sends the confirmation
// email. It never creates a session.
func (a *Authenticator) Register(ctx context.Context, in RegisterInput) (*Ack, error) {
	a.EnsureDefaults()
	email := normalizeEmail(in.Email)

	existing, err := a.Directory.FindByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, NewError(KindConflict, msgAccountExists, nil)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, NewError(KindInternal, msgInternal, err)
	}

	hash, err := a.Hasher.Hash(in.Password)
	if err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}

	user, err := a.Directory.CreateUser(ctx, NewUser{
		Email:        email,
		PasswordHash: hash,
		Name:         in.Name,
		Picture:      "",
		Method:       MethodCredentials,
		IsVerified:   false,
	})
	if errors.Is(err, ErrAlreadyExists) {
		return nil, NewError(KindConflict, msgAccountExists, err)
	}
	if err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}
	a.Logger.InfoContext(ctx, "registered user", "user_id", user.ID, "method", user.Method)

	if err := a.sendVerification(ctx, user.Email); err != nil {
		return nil, err
	}
	return &Ack{Message: msgRegistered}, nil
}

// Login runs the password flow. The gates run in a fixed order and the
// first failing gate ends the attempt:
//
//	lookup -> password -> email verified -> second factor -> session
func (a *Authenticator) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	a.EnsureDefaults()
	email := normalizeEmail(in.Email)

	user, err := a.Directory.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, NewError(KindNotFound, msgUserNotFound, nil)
	}
	if err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}
	if !user.HasPassword() {
		return nil, NewError(KindNotFound, msgUserNotFound, nil)
	}

	ok, err := a.Hasher.Verify(user.PasswordHash, in.Password)
	if err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}
	if !ok {
		return nil, NewError(KindUnauthorized, msgWrongPassword, nil)
	}

	if !user.IsVerified {
		// the gate outcome does not depend on whether the resend went out
		if err := a.sendVerification(ctx, user.Email); err != nil {
			a.Logger.WarnContext(ctx, "could not resend confirmation", "user_id", user.ID, "err", err)
		}
		return nil, NewError(KindUnauthorized, msgEmailNotConfirmed, nil)
	}

	if user.IsTwoFactorEnabled {
		if in.Code == "" {
			if err := a.sendTwoFactorCode(ctx, user.Email); err != nil {
				return nil, err
			}
			return &LoginResult{User: user, Ack: &Ack{Message: msgCheckEmailForCode}}, nil
		}
		result, err := a.SecondFactor.Validate(ctx, user.Email, in.Code)
		if err != nil {
			return nil, NewError(KindInternal, msgInternal, err)
		}
		switch result {
		case ValidationOK:
		case ValidationExpired:
			return nil, NewError(KindUnauthorized, msgExpiredCode, nil)
		default:
			return nil, NewError(KindUnauthorized, msgInvalidCode, nil)
		}
	}

	return a.startSession(ctx, user)
}

// ProviderLogin completes an authorization code callback. Trust is
// delegated to the provider so no password, verification or second factor
// gate applies.
func (a *Authenticator) ProviderLogin(ctx context.Context, providerName, code string) (*LoginResult, error) {
	a.EnsureDefaults()
	provider, ok := a.Providers.Lookup(providerName)
	if !ok {
		return nil, NewError(KindNotFound, msgUnknownProvider, nil)
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, a.ProviderTimeout)
	profile, err := provider.Exchange(exchangeCtx, code)
	cancel()
	if err != nil {
		if errors.Is(err, ErrProviderRejected) {
			return nil, NewError(KindUnauthorized, msgProviderRejected, err)
		}
		return nil, NewError(KindBadGateway, msgProviderFailed, err)
	}
	if profile.ID == "" {
		return nil, NewError(KindBadGateway, msgProviderFailed, errors.New("profile has no subject id"))
	}
	if profile.Provider == "" {
		profile.Provider = provider.Name()
	}
	profile.Email = normalizeEmail(profile.Email)

	user, err := a.resolveProviderUser(ctx, profile)
	if err != nil {
		return nil, err
	}
	return a.startSession(ctx, user)
}

// resolveProviderUser returns the user linked to profile, linking the
// profile to a new or existing user on first sight.
func (a *Authenticator) resolveProviderUser(ctx context.Context, profile *ExternalProfile) (*User, error) {
	account, err := a.Directory.FindLinkedAccount(ctx, profile.Provider, profile.ID)
	if err == nil {
		return a.accountOwner(ctx, account)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, NewError(KindInternal, msgInternal, err)
	}

	user, err := a.userForProfile(ctx, profile)
	if err != nil {
		return nil, err
	}

	_, err = a.Directory.LinkAccount(ctx, NewLinkedAccount{
		UserID:            user.ID,
		Provider:          profile.Provider,
		ProviderAccountID: profile.ID,
		AccessToken:       profile.AccessToken,
		RefreshToken:      profile.RefreshToken,
		ExpiresAt:         profile.ExpiresAt,
	})
	if errors.Is(err, ErrAlreadyExists) {
		// a concurrent callback linked this identity first; use its owner
		account, err := a.Directory.FindLinkedAccount(ctx, profile.Provider, profile.ID)
		if errors.Is(err, ErrNotFound) {
			return nil, NewError(KindConflict, msgAccountExists, err)
		}
		if err != nil {
			return nil, NewError(KindInternal, msgInternal, err)
		}
		a.Logger.InfoContext(ctx, "linked account created concurrently", "provider", profile.Provider, "user_id", account.UserID)
		return a.accountOwner(ctx, account)
	}
	if err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}
	a.Logger.InfoContext(ctx, "linked provider account", "provider", profile.Provider, "user_id", user.ID)
	return user, nil
}

// userForProfile finds the user owning the profile email or creates a
// verified one for it. An unconfirmed user with that email is claimed.
func (a *Authenticator) userForProfile(ctx context.Context, profile *ExternalProfile) (*User, error) {
	if profile.Email == "" {
		return nil, NewError(KindUnauthorized, msgProviderNoEmail, nil)
	}
	user, err := a.Directory.FindByEmail(ctx, profile.Email)
	if err == nil && !user.IsVerified {
		// the provider proved ownership of an email nobody confirmed, so
		// whatever password the registrant chose is dropped
		user, err = a.Directory.ClaimUnverified(ctx, user.ID, NewUser{
			Email:   profile.Email,
			Name:    profile.Name,
			Picture: profile.Picture,
			Method:  MethodForProvider(profile.Provider),
		})
		if err != nil {
			return nil, NewError(KindInternal, msgInternal, err)
		}
		a.Logger.InfoContext(ctx, "unconfirmed user claimed by provider", "user_id", user.ID, "provider", profile.Provider)
	}
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, NewError(KindInternal, msgInternal, err)
	}

	user, err = a.Directory.CreateUser(ctx, NewUser{
		Email:      profile.Email,
		Name:       profile.Name,
		Picture:    profile.Picture,
		Method:     MethodForProvider(profile.Provider),
		IsVerified: true,
	})
	if errors.Is(err, ErrAlreadyExists) {
		user, err = a.Directory.FindByEmail(ctx, profile.Email)
	}
	if err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}
	if user.Method != MethodCredentials {
		a.Logger.InfoContext(ctx, "registered user", "user_id", user.ID, "method", user.Method)
	}
	return user, nil
}

func (a *Authenticator) accountOwner(ctx context.Context, account *LinkedAccount) (*User, error) {
	user, err := a.Directory.FindByID(ctx, account.UserID)
	if err != nil {
		// a linked account always has an owner; anything else is corruption
		return nil, NewError(KindInternal, msgInternal, err)
	}
	return user, nil
}

// Logout destroys the session. Destroying a session that no longer
// exists succeeds.
func (a *Authenticator) Logout(ctx context.Context, sessionID string) error {
	a.EnsureDefaults()
	if err := a.Sessions.Destroy(ctx, sessionID); err != nil {
		a.Logger.WarnContext(ctx, "session destroy failed", "err", err)
		return NewError(KindInternal, msgSessionDestroy, err)
	}
	return nil
}

// ConfirmEmail consumes a verification token and marks its email as
// verified. The user is logged in unless a second factor is required, in
// which case only an Ack is returned.
func (a *Authenticator) ConfirmEmail(ctx context.Context, token string) (*LoginResult, error) {
	a.EnsureDefaults()
	email, result, err := a.Verification.Validate(ctx, token)
	if err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}
	switch result {
	case ValidationOK:
	case ValidationExpired:
		return nil, NewError(KindBadRequest, msgTokenExpired, nil)
	default:
		return nil, NewError(KindNotFound, msgTokenNotFound, nil)
	}

	user, err := a.Directory.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, NewError(KindNotFound, msgUserNotFound, nil)
	}
	if err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}
	if err := a.Directory.MarkVerified(ctx, email); err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}
	user.IsVerified = true
	a.Logger.InfoContext(ctx, "email confirmed", "user_id", user.ID)

	if user.IsTwoFactorEnabled {
		return &LoginResult{User: user, Ack: &Ack{Message: msgEmailVerified}}, nil
	}
	return a.startSession(ctx, user)
}

// SetTwoFactor turns the emailed second factor on or off for a user
func (a *Authenticator) SetTwoFactor(ctx context.Context, userID string, enabled bool) error {
	a.EnsureDefaults()
	err := a.Directory.SetTwoFactor(ctx, userID, enabled)
	if errors.Is(err, ErrNotFound) {
		return NewError(KindNotFound, msgUserNotFound, nil)
	}
	if err != nil {
		return NewError(KindInternal, msgInternal, err)
	}
	return nil
}

// CurrentUser resolves the user behind a session handle
func (a *Authenticator) CurrentUser(ctx context.Context, sessionID string) (*User, error) {
	a.EnsureDefaults()
	session, err := a.Sessions.Lookup(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewError(KindUnauthorized, msgNotLoggedIn, nil)
	}
	if err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}
	user, err := a.Directory.FindByID(ctx, session.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewError(KindUnauthorized, msgNotLoggedIn, nil)
	}
	if err != nil {
		return nil, NewError(KindInternal, msgInternal, err)
	}
	return user, nil
}

func (a *Authenticator) startSession(ctx context.Context, user *User) (*LoginResult, error) {
	session, err := a.Sessions.Create(ctx, user.ID)
	if err != nil {
		a.Logger.ErrorContext(ctx, "session create failed", "user_id", user.ID, "err", err)
		return nil, NewError(KindInternal, msgSessionSave, err)
	}
	a.Logger.InfoContext(ctx, "session started", "user_id", user.ID)
	return &LoginResult{User: user, Session: session}, nil
}

func (a *Authenticator) sendVerification(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, a.EmailTimeout)
	defer cancel()
	if _, err := a.Verification.Issue(ctx, email); err != nil {
		return issueError(err)
	}
	return nil
}

func (a *Authenticator) sendTwoFactorCode(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, a.EmailTimeout)
	defer cancel()
	if _, err := a.SecondFactor.Issue(ctx, email); err != nil {
		return issueError(err)
	}
	return nil
}

func issueError(err error) error {
	if errors.Is(err, ErrDeliveryFailed) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindBadGateway, msgDeliveryFailed, err)
	}
	return NewError(KindInternal, msgInternal, err)
}
