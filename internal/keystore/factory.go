package keystore

import (
	"github.com/sirosfoundation/go-ihe/internal/config"
)

// NewProvider creates an IdentityProvider from the identity configuration
func NewProvider(cfg *config.IdentityConfig) (IdentityProvider, error) {
	return NewFileProvider(Files{
		CertFile:  cfg.CertFile,
		ChainFile: cfg.ChainFile,
		KeyFile:   cfg.KeyFile,
		Password:  cfg.KeyPassword,
	})
}
