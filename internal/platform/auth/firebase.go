package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/shopsite/fulfillment/internal/platform/config"
)

// FirebaseVerifier checks Firebase ID tokens with the Admin SDK. Deadlines come
// from the caller; the Authenticator applies its verification timeout.
type FirebaseVerifier struct {
	tokens *firebaseauth.Client
}

var _ TokenVerifier = (*FirebaseVerifier)(nil)

func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	if project == "" {
		return nil, errors.New("firebase verifier: project id is required")
	}
	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: project}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase verifier: app: %w", err)
	}
	tokens, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase verifier: auth client: %w", err)
	}
	return &FirebaseVerifier{tokens: tokens}, nil
}

// VerifyIDToken wraps SDK rejections in ErrTokenExpired or ErrTokenInvalid. Other
// errors (key fetch, transport) are returned as is.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.tokens == nil {
		return nil, errors.New("firebase verifier: not initialised")
	}
	token, err := v.tokens.VerifyIDToken(ctx, idToken)
	if err == nil {
		return token, nil
	}
	if firebaseauth.IsIDTokenExpired(err) {
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}
	if firebaseauth.IsIDTokenInvalid(err) {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return nil, err
}
