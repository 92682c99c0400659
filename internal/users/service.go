package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/mybank-labs/mybank/internal/accounts"
	"github.com/mybank-labs/mybank/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	CreateUser(ctx context.Context, in CreateInput) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]User, int, error)
}

// AccountLister lists the accounts owned by a user.
type AccountLister interface {
	ListByUser(ctx context.Context, userID int64) ([]accounts.Account, error)
}

// AuditPort records user events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	accounts AccountLister
	audit    AuditPort
	validate *validator.Validate
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, accounts AccountLister, audit AuditPort) *Service {
	return &Service{repo: repo, accounts: accounts, audit: audit, validate: validator.New()}
}

// CreateUser registers a user.
func (s *Service) CreateUser(ctx context.Context, in CreateInput) (User, error) {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field()))
			}
			return User{}, fmt.Errorf("users: invalid %s: %w", strings.Join(fields, ", "), shared.ErrInvalidArgument)
		}
		return User{}, err
	}
	user, err := s.repo.CreateUser(ctx, in)
	if err != nil {
		return User{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "user.create",
			Entity:   "user",
			EntityID: strconv.FormatInt(user.ID, 10),
			Meta:     map[string]any{"email": user.Email},
			At:       time.Now(),
		})
	}
	return user, nil
}

// ListUsers returns a page of users.
func (s *Service) ListUsers(ctx context.Context, req shared.PageRequest) ([]User, shared.Pagination, error) {
	users, total, err := s.repo.ListUsers(ctx, req.Limit(), req.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if users == nil {
		users = []User{}
	}
	return users, shared.NewPagination(req.Page, req.PerPage, total), nil
}

// GetProfile loads a user and their accounts concurrently.
func (s *Service) GetProfile(ctx context.Context, id int64) (Profile, error) {
	var profile Profile
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		user, err := s.repo.GetUser(ctx, id)
		if err != nil {
			return err
		}
		profile.User = user
		return nil
	})
	g.Go(func() error {
		if s.accounts == nil {
			profile.Accounts = []accounts.Account{}
			return nil
		}
		list, err := s.accounts.ListByUser(ctx, id)
		if err != nil {
			return err
		}
		profile.Accounts = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return Profile{}, err
	}
	return profile, nil
}
