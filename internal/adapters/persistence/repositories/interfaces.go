package repositories

import (
	"context"

	"chamadao-server/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// UserRepository is the narrow profile lookup the settlement and
// loan engines need. Profile CRUD lives in the identity service.
type UserRepository interface {
	GetByWalletAddress(ctx context.Context, walletAddress string) (*models.User, error)
	ExistsByWalletAddress(ctx context.Context, walletAddress string) (bool, error)
}

// ChamaRepository is the narrow group lookup for loan creation.
type ChamaRepository interface {
	GetByAddress(ctx context.Context, chamaAddress string) (*models.Chama, error)
}

// userRepository is the GORM-backed UserRepository
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByWalletAddress(ctx context.Context, walletAddress string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("wallet_address = ?", walletAddress).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ExistsByWalletAddress(ctx context.Context, walletAddress string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("wallet_address = ?", walletAddress).
		Count(&count).Error
	return count > 0, err
}

// chamaRepository is the GORM-backed ChamaRepository
type chamaRepository struct {
	db *gorm.DB
}

// NewChamaRepository creates a new chama repository
func NewChamaRepository(db *gorm.DB) ChamaRepository {
	return &chamaRepository{db: db}
}

func (r *chamaRepository) GetByAddress(ctx context.Context, chamaAddress string) (*models.Chama, error) {
	var chama models.Chama
	err := r.db.WithContext(ctx).
		Where("chama_address = ?", chamaAddress).
		First(&chama).Error
	if err != nil {
		return nil, err
	}
	return &chama, nil
}
