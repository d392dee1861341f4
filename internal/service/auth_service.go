package service

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/config"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

type operator struct {
	username     string
	passwordHash string
	role         auth.Role
}

// AuthService authenticates admin API operators configured through the environment.
type AuthService struct {
	operators []operator
	tokenMgr  *auth.TokenManager
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, tokens *auth.TokenManager) *AuthService {
	s := &AuthService{tokenMgr: tokens}
	if cfg.AdminUsername != "" && cfg.AdminPasswordHash != "" {
		s.operators = append(s.operators, operator{cfg.AdminUsername, cfg.AdminPasswordHash, auth.RoleAdmin})
	}
	if cfg.ViewerUsername != "" && cfg.ViewerPasswordHash != "" {
		s.operators = append(s.operators, operator{cfg.ViewerUsername, cfg.ViewerPasswordHash, auth.RoleViewer})
	}
	return s
}

// Login verifies credentials and issues a bearer token.
func (s *AuthService) Login(_ context.Context, username, password string) (string, time.Time, auth.Role, error) {
	username = strings.TrimSpace(username)
	for _, op := range s.operators {
		if subtle.ConstantTimeCompare([]byte(op.username), []byte(username)) != 1 {
			continue
		}
		if !auth.PasswordMatches(op.passwordHash, password) {
			break
		}
		token, exp, err := s.tokenMgr.GenerateToken(op.username, op.role)
		if err != nil {
			return "", time.Time{}, "", apperrors.NewInternalError(err)
		}
		return token, exp, op.role, nil
	}
	return "", time.Time{}, "", apperrors.NewUnauthorized("invalid credentials")
}
