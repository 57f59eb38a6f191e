// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

// Package sec provides token verification and actor identity.
//
// # Architecture
//
// Sagaforge does not mint credentials: tokens are issued by the surrounding
// identity platform and only verified here. This package isolates the
// security-sensitive parsing from domain logic; the consistency subsystem
// itself never performs authorization — it only records the opaque actor id
// carried by the verified claims.
package sec

import (
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ActorClaims represents the payload embedded inside a JWT access token.
//
// # Why custom claims?
//
// Embedding the ActorID and Role directly inside the JWT lets the
// authentication middleware reconstruct identity WITHOUT querying a user
// store on every API request.
type ActorClaims struct {
	jwt.RegisteredClaims

	// Custom application claims are abbreviated to keep the JWT payload small.
	ActorID string `json:"aid"`
	Role    string `json:"rol"`
}

// TokenVerifier checks JWT signatures using an RS256 public key.
type TokenVerifier struct {
	publicKey *rsa.PublicKey
	issuer    string
}

// NewTokenVerifier creates a TokenVerifier from a PEM public key on disk.
func NewTokenVerifier(publicKeyPath, issuer string) (*TokenVerifier, error) {
	publicKeyData, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("sec: failed to read public key from %s: %w", publicKeyPath, err)
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyData)
	if err != nil {
		return nil, fmt.Errorf("sec: failed to parse public key: %w", err)
	}

	return &TokenVerifier{publicKey: publicKey, issuer: issuer}, nil
}

// VerifyToken checks the signature and validity of a JWT string.
func (verifier *TokenVerifier) VerifyToken(tokenString string) (*ActorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("sec: unexpected signing method: %v", token.Header["alg"])
		}
		return verifier.publicKey, nil
	}, jwt.WithIssuer(verifier.issuer))

	if err != nil {
		return nil, fmt.Errorf("sec: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("sec: invalid token claims")
	}

	return claims, nil
}

// # Actor Roles

// Role represents the authorization level granted to an actor.
type Role string

const (
	// Unrestricted system access
	RoleAdmin Role = "admin"

	// Can curate scopes they maintain: run analysis, resolve and dismiss issues
	RoleCurator Role = "curator"

	// Default role: read-only access to entities and issues
	RoleReader Role = "reader"
)

// AtLeast checks if the current role meets or exceeds the required target role.
func (r Role) AtLeast(target Role) bool {
	return r.level() >= target.level()
}

// level maps a role to a numeric hierarchy level for comparison logic.
func (r Role) level() int {

	// Linear scale (10-30) allows for future intermediate roles
	switch r {
	case RoleAdmin:
		return 30
	case RoleCurator:
		return 20
	case RoleReader:
		return 10
	default:
		return 0
	}
}
