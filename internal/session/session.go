// Package session tracks the authenticated principal. Sign-in is either
// email/password against the local users table or a redirect-based federated
// flow; both end in the same authenticated state. Interested parties observe
// state transitions to acquire or release resources.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"medibill/m/domain"
)

// State is the current authentication phase.
type State int

const (
	// StateUnknown is the initial state before the first resolution.
	StateUnknown State = iota
	// StateAnonymous means no user is signed in.
	StateAnonymous
	// StateAuthenticated means a user is signed in.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

var (
	ErrEmailTaken            = errors.New("email already registered")
	ErrInvalidEmail          = errors.New("invalid email address")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrWeakPassword          = errors.New("password must be at least 6 characters")
	ErrRedirectNotConfigured = errors.New("federated sign-in is not configured")
)

// Claims is the JWT payload issued on sign-in.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Manager owns the auth state machine and the account store.
type Manager struct {
	db          *sqlx.DB
	secret      string
	oauth       *oauth2.Config
	userInfoURL string
	log         *logrus.Logger

	mu      sync.Mutex
	state   State
	user    *domain.User
	subs    map[int]func(State, *domain.User)
	nextSub int
}

// NewManager constructs a Manager. oauth may be nil, disabling the redirect
// flow.
func NewManager(db *sqlx.DB, secret string, oauth *oauth2.Config, userInfoURL string, log *logrus.Logger) *Manager {
	return &Manager{
		db:          db,
		secret:      secret,
		oauth:       oauth,
		userInfoURL: userInfoURL,
		log:         log,
		state:       StateUnknown,
		subs:        make(map[int]func(State, *domain.User)),
	}
}

// Resolve settles the initial state: with no persisted session there is no
// signed-in user, so unknown becomes anonymous.
func (m *Manager) Resolve() {
	m.mu.Lock()
	if m.state != StateUnknown {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.setState(StateAnonymous, nil)
}

// State returns the current state and, when authenticated, the user.
func (m *Manager) State() (State, *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, cloneUser(m.user)
}

// OnStateChange registers cb for auth transitions. It fires immediately with
// the current state, then on every change until the returned function is
// called.
func (m *Manager) OnStateChange(cb func(State, *domain.User)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = cb
	state, user := m.state, cloneUser(m.user)
	m.mu.Unlock()

	cb(state, user)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// SignUp creates an email/password account and signs it in.
func (m *Manager) SignUp(ctx context.Context, email, password, displayName, role string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, "", ErrInvalidEmail
	}
	if len(password) < 6 {
		return domain.User{}, "", ErrWeakPassword
	}
	if role == "" {
		role = "staff"
	}
	if role != "admin" && role != "staff" {
		return domain.User{}, "", fmt.Errorf("role must be admin or staff")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("unable to secure password: %w", err)
	}

	var userID int64
	err = m.db.QueryRowxContext(ctx,
		`INSERT INTO users (email, display_name, password, provider, role) VALUES (?, ?, ?, 'password', ?) RETURNING id`,
		email, displayName, string(hashed), role).Scan(&userID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.User{}, "", ErrEmailTaken
		}
		return domain.User{}, "", err
	}

	user := domain.User{ID: userID, Email: email, DisplayName: displayName, Provider: "password", Role: role}
	token, err := m.issueToken(user)
	if err != nil {
		return domain.User{}, "", err
	}
	m.setState(StateAuthenticated, &user)
	return user, token, nil
}

// SignIn authenticates an email/password account.
func (m *Manager) SignIn(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user domain.User
	err := m.db.GetContext(ctx, &user,
		`SELECT id, email, display_name, password, provider, role, created_at FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user.Password = ""

	token, err := m.issueToken(user)
	if err != nil {
		return domain.User{}, "", err
	}
	m.setState(StateAuthenticated, &user)
	return user, token, nil
}

// RedirectURL starts the federated flow: the caller sends the browser here.
func (m *Manager) RedirectURL(state string) (string, error) {
	if m.oauth == nil {
		return "", ErrRedirectNotConfigured
	}
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// CompleteRedirect finishes the federated flow with the provider's code,
// provisioning a local account for the federated identity on first sign-in.
func (m *Manager) CompleteRedirect(ctx context.Context, code string) (domain.User, string, error) {
	if m.oauth == nil {
		return domain.User{}, "", ErrRedirectNotConfigured
	}
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("code exchange failed: %w", err)
	}

	resp, err := m.oauth.Client(ctx, tok).Get(m.userInfoURL)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	var info struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return domain.User{}, "", fmt.Errorf("userinfo decode failed: %w", err)
	}
	if info.Email == "" {
		return domain.User{}, "", errors.New("identity provider returned no email")
	}
	email := strings.ToLower(info.Email)

	var user domain.User
	err = m.db.GetContext(ctx, &user,
		`SELECT id, email, display_name, password, provider, role, created_at FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		err = m.db.QueryRowxContext(ctx,
			`INSERT INTO users (email, display_name, provider, role) VALUES (?, ?, 'federated', 'staff') RETURNING id`,
			email, info.Name).Scan(&user.ID)
		if err != nil {
			return domain.User{}, "", err
		}
		user.Email = email
		user.DisplayName = info.Name
		user.Provider = "federated"
		user.Role = "staff"
	} else if err != nil {
		return domain.User{}, "", err
	}
	user.Password = ""

	token, err := m.issueToken(user)
	if err != nil {
		return domain.User{}, "", err
	}
	m.setState(StateAuthenticated, &user)
	return user, token, nil
}

// SignOut drops the authenticated user. Observers release their subscriptions
// on this transition.
func (m *Manager) SignOut() {
	m.setState(StateAnonymous, nil)
}

func (m *Manager) issueToken(user domain.User) (string, error) {
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secret))
}

// VerifyToken parses and validates a session token.
func (m *Manager) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(m.secret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func (m *Manager) setState(state State, user *domain.User) {
	m.mu.Lock()
	m.state = state
	m.user = cloneUser(user)
	callbacks := make([]func(State, *domain.User), 0, len(m.subs))
	for _, cb := range m.subs {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	if m.log != nil {
		m.log.WithField("state", state.String()).Debug("auth state changed")
	}
	for _, cb := range callbacks {
		cb(state, cloneUser(user))
	}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
