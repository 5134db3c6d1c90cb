// Package auth verifies Firebase ID tokens into authenticated users.
package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/model"
)

// tokenVerifier is the slice of the Firebase auth client we use.
type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// Verifier validates Bearer tokens against Firebase Auth.
type Verifier struct {
	client tokenVerifier
}

// NewVerifier initializes the Firebase app for the project.
func NewVerifier(ctx context.Context, project string) (*Verifier, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: project})
	if err != nil {
		return nil, fmt.Errorf("auth.NewVerifier: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth.NewVerifier: %w", err)
	}
	return &Verifier{client: client}, nil
}

// Verify resolves a raw ID token into a user. Any verification failure
// maps to 401.
func (v *Verifier) Verify(ctx context.Context, idToken string) (model.AuthenticatedUser, error) {
	if idToken == "" {
		return model.AuthenticatedUser{}, apperr.Unauthorized("Missing bearer token")
	}
	tok, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return model.AuthenticatedUser{}, apperr.Unauthorized("Invalid or expired token")
	}
	user := model.AuthenticatedUser{UserID: tok.UID}
	if email, ok := tok.Claims["email"].(string); ok {
		user.Email = email
	}
	return user, nil
}
