// Package authgate authenticates end users and hands out sessions.
//
// Three paths lead to a session: email and password, an OAuth style identity
// provider (GitHub, Google), and an emailed one time code when the user has
// two factor login turned on. The Authenticator runs the gates for each path
// in a fixed order and only talks to its collaborators through interfaces:
//
//   - UserDirectory persists users and the provider accounts linked to them
//   - PasswordHasher hashes and checks passwords (bcrypt or argon2id)
//   - SessionManager creates, resolves and destroys sessions
//   - VerificationIssuer and SecondFactorIssuer store single use challenges
//     in a ChallengeStore and deliver them through SendEmail
//   - IdentityProvider turns an authorization code into an ExternalProfile
//
// # Basic Usage
//
//	import (
//	    "github.com/alexedwards/scs/v2"
//	    "github.com/panyam/authgate"
//	    "github.com/panyam/authgate/oauth2"
//	    "github.com/panyam/authgate/stores"
//	)
//
//	storagePath := "/path/to/storage"
//	challenges := stores.NewFSChallengeStore(storagePath)
//	mailer := &authgate.ConsoleEmailSender{}
//	providers, _ := authgate.NewProviderRegistry(
//	    oauth2.NewGithubProvider("", "", ""), // reads OAUTH2_GITHUB_* env vars
//	)
//
//	sm := scs.New()
//	auth := &authgate.Authenticator{
//	    Directory:    stores.NewFSDirectory(storagePath),
//	    Sessions:     authgate.NewSCSSessions(sm),
//	    Providers:    providers,
//	    Verification: &authgate.VerificationIssuer{Store: challenges, EmailSender: mailer, BaseURL: "https://app.example.com"},
//	    SecondFactor: &authgate.SecondFactorIssuer{Store: challenges, EmailSender: mailer},
//	}
//
//	handler := &authgate.Handler{
//	    Auth:    auth,
//	    Session: sm,
//	    State:   &authgate.StateSigner{Secret: []byte(os.Getenv("AUTHGATE_STATE_SECRET"))},
//	}
//	http.ListenAndServe(":8080", handler.EnsureDefaults())
//
// # Errors
//
// Every failure returned by the Authenticator is an *Error carrying a Kind
// (Conflict, NotFound, Unauthorized, Internal, BadGateway, BadRequest).
// Use KindOf or IsKind to branch on it, and StatusFor to map it to an HTTP
// status. Store implementations report ErrNotFound and ErrAlreadyExists.
//
// # Stores
//
// The stores package keeps users and challenges as JSON files. stores/gorm
// targets Postgres or SQLite, stores/gae targets Cloud Datastore, and
// stores/redis provides a ChallengeStore and an scs session store.
package authgate
