package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory builds the repositories for one DB handle on first use.
type Factory struct {
	db    *gorm.DB
	once  sync.Once
	repos *Repositories
}

func NewFactory(db *gorm.DB) *Factory {
	return &Factory{db: db}
}

func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetUserRepository is the credential store used by auth and paymentctl.
func (f *Factory) GetUserRepository() UserRepository {
	return f.GetRepositories().User
}
