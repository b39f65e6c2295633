package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/promptforge/promptforge-api/internal/models"
	"golang.org/x/crypto/bcrypt"
)

type UserRepository interface {
	CreateUser(ctx context.Context, email, name, password string) (models.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (models.User, error)
	GetUserByID(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	SetSubscriptionTier(ctx context.Context, userID string, tier models.SubscriptionTier) (models.User, error)
}

type userRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, email, name, password_hash, global_role, subscription_tier, created_at`

func scanUser(row *sql.Row) (models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.GlobalRole,
		&user.Tier,
		&user.CreatedAt,
	)
	return user, err
}

func (r *userRepository) CreateUser(ctx context.Context, email, name, password string) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, errors.Wrap(err, "hash password")
	}

	const query = `
		INSERT INTO users (id, email, name, password_hash, global_role, subscription_tier)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns + `;
	`
	user, err := scanUser(r.db.QueryRowContext(ctx, query,
		uuid.NewString(),
		models.NormalizeEmail(email),
		name,
		string(hash),
		models.RoleStandard,
		models.TierFree,
	))
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return models.User{}, models.ErrEmailTaken
		}
		return models.User{}, errors.Wrap(err, "insert user")
	}
	return user, nil
}

func (r *userRepository) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	user, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		return models.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, models.ErrUserNotFound
	}
	return user, nil
}

func (r *userRepository) GetUserByID(ctx context.Context, id string) (models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1;`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, models.ErrUserNotFound
		}
		return models.User{}, errors.Wrap(err, "get user by id")
	}
	return user, nil
}

func (r *userRepository) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1;`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, models.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, models.ErrUserNotFound
		}
		return models.User{}, errors.Wrap(err, "get user by email")
	}
	return user, nil
}

func (r *userRepository) SetSubscriptionTier(ctx context.Context, userID string, tier models.SubscriptionTier) (models.User, error) {
	const query = `
		UPDATE users
		SET subscription_tier = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns + `;
	`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID, tier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, models.ErrUserNotFound
		}
		return models.User{}, errors.Wrap(err, "set subscription tier")
	}
	return user, nil
}
