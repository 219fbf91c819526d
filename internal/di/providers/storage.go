package providers

import (
	"fmt"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/grimoireapp/grimoire-server/internal/config"
	"github.com/grimoireapp/grimoire-server/internal/logger"
	"github.com/grimoireapp/grimoire-server/internal/media/images"
)

// ProvideCoverStorage provides the on-disk cover store under <data>/covers.
func ProvideCoverStorage(i do.Injector) (*images.Storage, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	covers, err := images.NewStorage(cfg.Storage.DataPath)
	if err != nil {
		return nil, fmt.Errorf("cover storage: %w", err)
	}

	log.Info("Cover storage initialized", "path", filepath.Join(cfg.Storage.DataPath, "covers"))

	return covers, nil
}

// ProvideImageProcessor provides the image processor for cover art.
func ProvideImageProcessor(i do.Injector) (*images.Processor, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return images.NewProcessor(cfg.Images.MaxBytes, cfg.Images.Quality, log.Logger), nil
}
