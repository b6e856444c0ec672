// Package auth provides operator login, JWT bearer tokens and the Principal
// capability that every gateway call requires.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metadata"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
)

const issuer = "minecraft-panel"

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is an authenticated operator. The zero value is not
// authenticated; only this package can build a valid one.
type Principal struct {
	operatorID int64
	username   string
}

// Valid reports whether p was produced by a successful authentication.
func (p Principal) Valid() bool { return p.username != "" }

// Username returns the operator name.
func (p Principal) Username() string { return p.username }

// OperatorID returns the operator's record id, or 0 for internal principals.
func (p Principal) OperatorID() int64 { return p.operatorID }

// Internal returns a principal for in-process callers such as the admin
// CLI, which run with the server's own authority.
func Internal(name string) Principal {
	return Principal{username: "internal:" + name}
}

// Claims holds JWT token claims.
type Claims struct {
	OperatorID int64  `json:"operator_id"`
	Username   string `json:"username"`
	jwt.RegisteredClaims
}

// Auth issues and verifies operator tokens.
type Auth struct {
	store  metadata.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New creates a new Auth handler.
func New(store metadata.Store, jwtSecret string, ttl time.Duration) *Auth {
	return &Auth{
		store:  store,
		secret: []byte(jwtSecret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// dummyHash is compared against when the username is unknown so both
// failure paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-password"), bcrypt.DefaultCost)

// Login checks credentials and returns a signed token.
func (a *Auth) Login(ctx context.Context, username, password string) (string, time.Time, Principal, error) {
	op, err := a.store.GetOperator(ctx, username)
	if errors.Is(err, metadata.ErrNotFound) {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", time.Time{}, Principal{}, fmt.Errorf("%w: invalid credentials", fserr.ErrUnauthenticated)
	}
	if err != nil {
		return "", time.Time{}, Principal{}, fmt.Errorf("%w: look up operator: %w", fserr.ErrIO, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, Principal{}, fmt.Errorf("%w: invalid credentials", fserr.ErrUnauthenticated)
	}

	token, expires, err := a.IssueToken(op.ID, op.Username)
	if err != nil {
		return "", time.Time{}, Principal{}, err
	}
	return token, expires, Principal{operatorID: op.ID, username: op.Username}, nil
}

// IssueToken signs a token for an operator.
func (a *Auth) IssueToken(operatorID int64, username string) (string, time.Time, error) {
	now := a.now()
	claims := &Claims{
		OperatorID: operatorID,
		Username:   username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, claims.ExpiresAt.Time, nil
}

// Verify validates a token and returns its principal.
func (a *Auth) Verify(tokenStr string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", fserr.ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Username == "" {
		return Principal{}, fmt.Errorf("%w: invalid token", fserr.ErrUnauthenticated)
	}
	return Principal{operatorID: claims.OperatorID, username: claims.Username}, nil
}

// Middleware returns HTTP middleware that validates bearer tokens and
// stores the principal in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		p, err := a.Verify(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// WithPrincipal injects a principal into a context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// FromContext returns the principal stored by Middleware, or the zero
// Principal.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalContextKey).(Principal)
	return p
}

// HandleLogin handles POST /api/v1/auth/token
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	token, expires, p, err := a.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		if errors.Is(err, fserr.ErrUnauthenticated) {
			logging.Warn("login failed", zap.String("username", req.Username))
			sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logging.Error("login error", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "login failed")
		return
	}

	metrics.RecordAuthAttempt(true)
	logging.Info("login successful", zap.String("username", p.Username()))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":      token,
		"expires_at": expires,
		"username":   p.Username(),
	})
}

// AddOperator creates an operator with a bcrypt-hashed password.
func (a *Auth) AddOperator(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return fmt.Errorf("username and password required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := a.store.InsertOperator(ctx, username, string(hashed)); err != nil {
		return fmt.Errorf("insert operator: %w", err)
	}
	logging.Info("operator created", zap.String("username", username))
	return nil
}

// EnsureDefaultAdmin creates the bootstrap operator if none exist. With an
// empty password a random one is generated and logged once.
func (a *Auth) EnsureDefaultAdmin(ctx context.Context, username, password string) error {
	count, err := a.store.CountOperators(ctx)
	if err != nil {
		return fmt.Errorf("count operators: %w", err)
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		buf := make([]byte, 12)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate password: %w", err)
		}
		password = hex.EncodeToString(buf)
		logging.Warn("no operators found, created bootstrap operator with generated password",
			zap.String("username", username),
			zap.String("password", password))
	} else {
		logging.Warn("no operators found, creating bootstrap operator", zap.String("username", username))
	}
	return a.AddOperator(ctx, username, password)
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// EventSource cannot set headers.
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"kind":  fserr.KindUnauthenticated,
	})
}
