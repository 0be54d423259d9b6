package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Skotchmaster/user_directory/internal/es"
	"github.com/Skotchmaster/user_directory/internal/hash"
	"github.com/Skotchmaster/user_directory/internal/logging"
	"github.com/Skotchmaster/user_directory/internal/metrics"
	"github.com/Skotchmaster/user_directory/internal/models"
	"github.com/Skotchmaster/user_directory/internal/mykafka"
	"github.com/Skotchmaster/user_directory/internal/repo"
	"github.com/Skotchmaster/user_directory/internal/tokens"
	"github.com/Skotchmaster/user_directory/internal/util"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrSearchUnavailable  = errors.New("search is not configured")
)

const sideEffectTimeout = 5 * time.Second

type UserRepository interface {
	CreateUserIfNotExists(ctx context.Context, u *models.User) error
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]models.User, error)
}

type UserIndex interface {
	IndexUser(ctx context.Context, doc es.UserDoc) error
	SearchUsers(ctx context.Context, query string, from, size int) ([]es.UserDoc, error)
}

type AuthService struct {
	Repo     UserRepository
	Tokens   *tokens.Service
	Producer mykafka.Publisher
	// Index is optional; nil disables directory search.
	Index   UserIndex
	Metrics *metrics.Metrics
}

type RegisterInput struct {
	Username    string
	Password    string
	IsModerator bool
	Consent     bool
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
	IsModerator  bool
}

type UserView struct {
	Username    string `json:"username"`
	IsModerator bool   `json:"isModerator"`
}

func RegisteredMessage(username string) string {
	return "By registering you agree to let us store your data. USER WITH USERNAME " + username + " REGISTERED"
}

func LoggedOutMessage(username string) string {
	return "LOGGED OUT OF " + username
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (string, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register", "username", in.Username)

	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || in.Password == "" {
		return "", fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	if len(in.Password) > hash.MaxPasswordBytes {
		return "", fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, hash.MaxPasswordBytes)
	}
	if !in.Consent {
		return "", fmt.Errorf("%w: consent to data storage is required", ErrValidation)
	}

	pwHash, err := hash.HashPassword(in.Password)
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return "", fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Username:     in.Username,
		PasswordHash: pwHash,
		IsModerator:  in.IsModerator,
	}
	if err := s.Repo.CreateUserIfNotExists(ctx, &user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			l.Warn("register_failed", "status", 409, "reason", "user_exists")
			return "", ErrDuplicateUser
		}
		l.Error("register_failed", "status", 500, "reason", "db_error", "error", err)
		return "", fmt.Errorf("create user: %w", err)
	}

	if user.IsModerator {
		l.Warn("register_self_assigned_moderator", "reason", "isModerator set by caller")
	}

	s.Metrics.Registered()
	s.publish(ctx, mykafka.EventUserRegistered, user.Username, user.IsModerator)
	s.index(ctx, user)

	l.Info("register_success", "status", 200)
	return RegisteredMessage(user.Username), nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	l := logging.FromContext(ctx).With("svc", "auth.login", "username", username)

	if username == "" || password == "" {
		s.Metrics.Login("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	user, err := s.Repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			l.Warn("login_failed", "status", 401, "reason", "unknown_user")
			s.Metrics.Login("invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		l.Error("login_failed", "status", 500, "reason", "db_error", "error", err)
		s.Metrics.Login("error")
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("login_failed", "status", 401, "reason", "password_mismatch")
		s.Metrics.Login("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	res, err := s.issuePair(ctx, user)
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "cannot create token", "error", err)
		s.Metrics.Login("error")
		return nil, err
	}

	s.Metrics.Login("success")
	s.publish(ctx, mykafka.EventUserLoggedIn, user.Username, user.IsModerator)
	l.Info("login_successful")
	return res, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked before the new pair is issued, so each refresh token works once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	username, err := s.Tokens.Redeem(ctx, refreshToken)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "reason", tokens.Reason(err), "error", err)
		s.Metrics.TokenRejected(tokens.Reason(err))
		return nil, err
	}
	s.Metrics.Revoked()

	user, err := s.Repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			l.Warn("refresh_failed", "status", 401, "reason", "unknown_user", "username", username)
			return nil, fmt.Errorf("%w: subject no longer exists", tokens.ErrInvalidToken)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	res, err := s.issuePair(ctx, user)
	if err != nil {
		l.Error("refresh_failed", "status", 500, "reason", "cannot create token", "error", err)
		return nil, err
	}

	l.Info("refresh_successful", "username", username)
	return res, nil
}

// LogOut revokes refreshToken on behalf of id. A refresh token issued to
// another user is left untouched. The access token presented with the
// request stays valid until it expires.
func (s *AuthService) LogOut(ctx context.Context, id tokens.Identity, refreshToken string) (string, error) {
	l := logging.FromContext(ctx).With("svc", "auth.logout", "username", id.Username)

	owner, ownerErr := s.Tokens.RefreshOwner(refreshToken)
	switch {
	case refreshToken == "":
		l.Warn("logout_without_refresh_token")
	case ownerErr == nil && owner != id.Username:
		l.Warn("logout_foreign_token", "owner", owner)
	default:
		if err := s.Tokens.Revoke(ctx, refreshToken); err != nil {
			l.Error("logout_failed", "status", 500, "reason", "cannot revoke refreshToken", "error", err)
			return "", err
		}
		s.Metrics.Revoked()
	}

	s.publish(ctx, mykafka.EventUserLoggedOut, id.Username, id.IsModerator)
	l.Info("successful_logout")
	return LoggedOutMessage(id.Username), nil
}

func (s *AuthService) Profile(_ context.Context, id tokens.Identity) UserView {
	return UserView{Username: id.Username, IsModerator: id.IsModerator}
}

// ListUsers pages through the directory. page and size of zero return every user.
func (s *AuthService) ListUsers(ctx context.Context, page, size int) ([]UserView, error) {
	offset, limit := 0, 0
	if page > 0 || size > 0 {
		offset, limit = util.Calculate(page, size)
	}

	users, err := s.Repo.ListUsers(ctx, offset, limit)
	if err != nil {
		logging.FromContext(ctx).Error("list_users_failed", "status", 500, "error", err)
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]UserView, len(users))
	for i, u := range users {
		out[i] = UserView{Username: u.Username, IsModerator: u.IsModerator}
	}
	return out, nil
}

func (s *AuthService) SearchUsers(ctx context.Context, query string, page, size int) ([]UserView, error) {
	if s.Index == nil {
		return nil, ErrSearchUnavailable
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}

	from, limit := util.Calculate(page, size)
	docs, err := s.Index.SearchUsers(ctx, query, from, limit)
	if err != nil {
		logging.FromContext(ctx).Error("search_users_failed", "status", 500, "error", err)
		return nil, fmt.Errorf("search users: %w", err)
	}

	out := make([]UserView, len(docs))
	for i, d := range docs {
		out[i] = UserView{Username: d.Username, IsModerator: d.IsModerator}
	}
	return out, nil
}

// EnsureModerator creates a moderator account unless username is already taken.
func (s *AuthService) EnsureModerator(ctx context.Context, username, password string) error {
	l := logging.FromContext(ctx).With("svc", "auth.seed", "username", username)

	pwHash, err := hash.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := models.User{Username: username, PasswordHash: pwHash, IsModerator: true}
	if err := s.Repo.CreateUserIfNotExists(ctx, &user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			l.Info("seed_skipped", "reason", "user_exists")
			return nil
		}
		return fmt.Errorf("seed moderator: %w", err)
	}

	s.index(ctx, user)
	l.Info("seed_moderator_created")
	return nil
}

func (s *AuthService) issuePair(ctx context.Context, user *models.User) (*LoginResult, error) {
	id := tokens.Identity{Username: user.Username, IsModerator: user.IsModerator}

	accessToken, accessExp, err := s.Tokens.IssueAccessToken(id)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshExp, err := s.Tokens.IssueRefreshToken(ctx, user.Username)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
		IsModerator:  user.IsModerator,
	}, nil
}

func (s *AuthService) publish(ctx context.Context, eventType, username string, isModerator bool) {
	if s.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	event := mykafka.UserEvent{
		Type:        eventType,
		Username:    username,
		IsModerator: isModerator,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.Producer.PublishEvent(ctx, mykafka.TopicUserEvents, username, event); err != nil {
		logging.FromContext(ctx).Error("kafka_publish_failed", "event", eventType, "error", err)
	}
}

func (s *AuthService) index(ctx context.Context, user models.User) {
	if s.Index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if err := s.Index.IndexUser(ctx, es.UserDoc{Username: user.Username, IsModerator: user.IsModerator}); err != nil {
		logging.FromContext(ctx).Error("index_user_failed", "username", user.Username, "error", err)
	}
}
