package httpapi

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/store"
)

const tokenIssuer = "pos"

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errUsernameTaken      = errors.New("username already exists")
	errUsernameSpaces     = errors.New("username must not contain spaces")
)

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager signs staff tokens and checks passwords against a cache of
// accounts refreshed from the user store.
type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	accounts   *accountCache
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	a := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		accounts: &accountCache{source: userStore, byName: make(map[string]domain.UserAccount)},
	}
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		a.managerPIN, _ = hashSecret(pin)
	}
	a.accounts.refresh(ctx)
	return a
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.accounts.refresh(ctx)
	account, ok := a.accounts.get(normalizeUsername(req.Username))
	if !ok || !matchesHash(account.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	now := time.Now().UTC()
	expiresAt := now.Add(a.tokenTTL)
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   account.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: account.Role,
	}).SignedString(a.secret)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{AccessToken: token, Role: account.Role, ExpiresAt: expiresAt.Format(time.RFC3339)}, nil
}

func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims staffClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	if claims.Subject == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

// ValidateManagerPIN is always false when no PIN is configured.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	return matchesHash(a.managerPIN, strings.TrimSpace(pin))
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	username := normalizeUsername(req.Username)
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.CashierUser{}, errUsernameSpaces
	}
	a.accounts.refresh(ctx)
	if _, exists := a.accounts.get(username); exists {
		return domain.CashierUser{}, errUsernameTaken
	}

	hash, err := hashSecret(req.Password)
	if err != nil {
		return domain.CashierUser{}, err
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.accounts.add(ctx, account); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.CashierUser{}, errUsernameTaken
		}
		return domain.CashierUser{}, err
	}
	return cashierView(account), nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.accounts.refresh(ctx)
	out := make([]domain.CashierUser, 0, 8)
	for _, account := range a.accounts.withRole(domain.RoleCashier) {
		out = append(out, cashierView(account))
	}
	return out
}

func cashierView(account domain.UserAccount) domain.CashierUser {
	return domain.CashierUser{Username: account.Username, Role: account.Role, Active: account.Active, CreatedAt: account.CreatedAt}
}

// accountCache mirrors the user store so logins keep working through short
// store outages. Plain-text passwords found while refreshing are rehashed and
// written back.
type accountCache struct {
	mu     sync.RWMutex
	source UserStore
	byName map[string]domain.UserAccount
}

func (c *accountCache) refresh(ctx context.Context) {
	if c.source == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	accounts, err := c.source.ListUsers(ctx)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, account := range accounts {
		account.Username = normalizeUsername(account.Username)
		if account.Username == "" {
			continue
		}
		if !isBcrypt(account.Password) {
			hash, err := hashSecret(account.Password)
			if err != nil {
				continue
			}
			account.Password = hash
			_ = c.source.UpdateUserPassword(ctx, account.Username, hash)
		}
		c.byName[account.Username] = account
	}
}

func (c *accountCache) get(username string) (domain.UserAccount, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	account, ok := c.byName[username]
	return account, ok
}

func (c *accountCache) add(ctx context.Context, account domain.UserAccount) error {
	if c.source != nil {
		if err := c.source.CreateUser(ctx, account); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.byName[account.Username] = account
	c.mu.Unlock()
	return nil
}

func (c *accountCache) withRole(role string) []domain.UserAccount {
	c.mu.RLock()
	out := make([]domain.UserAccount, 0, len(c.byName))
	for _, account := range c.byName {
		if account.Role == role {
			out = append(out, account)
		}
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(x, y domain.UserAccount) int { return strings.Compare(x.Username, y.Username) })
	return out
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func hashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(hash), err
}

func isBcrypt(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}

// matchesHash is false for an empty input or a stored value that is not a bcrypt hash.
func matchesHash(hash string, input string) bool {
	if strings.TrimSpace(input) == "" || !isBcrypt(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}
