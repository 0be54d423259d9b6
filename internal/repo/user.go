package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Skotchmaster/user_directory/internal/models"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserAlreadyExist = errors.New("user already exist")
)

func (r *GormRepo) CreateUserIfNotExists(ctx context.Context, u *models.User) error {
	probe := models.User{}
	tx := r.DB.WithContext(ctx).
		Where(models.User{Username: u.Username}).
		Attrs(models.User{PasswordHash: u.PasswordHash, IsModerator: u.IsModerator}).
		FirstOrCreate(&probe)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrDuplicatedKey) {
			return ErrUserAlreadyExist
		}
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrUserAlreadyExist
	}
	*u = probe
	return nil
}

func (r *GormRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListUsers returns users ordered by username. A non-positive limit returns all of them.
func (r *GormRepo) ListUsers(ctx context.Context, offset, limit int) ([]models.User, error) {
	users := make([]models.User, 0)
	q := r.DB.WithContext(ctx).Order("username")
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
