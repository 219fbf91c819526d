package providers

import (
	"github.com/samber/do/v2"

	"github.com/grimoireapp/grimoire-server/internal/auth"
	"github.com/grimoireapp/grimoire-server/internal/config"
	"github.com/grimoireapp/grimoire-server/internal/logger"
	"github.com/grimoireapp/grimoire-server/internal/media/images"
	"github.com/grimoireapp/grimoire-server/internal/rating"
	"github.com/grimoireapp/grimoire-server/internal/service"
	"github.com/grimoireapp/grimoire-server/internal/validation"
)

// ProvideValidator provides the shared input validator.
func ProvideValidator(i do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// ProvideRatingAggregator provides the aggregator bounded by RATING_MIN/RATING_MAX.
func ProvideRatingAggregator(i do.Injector) (*rating.Aggregator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return rating.NewAggregator(rating.Bounds{Min: cfg.Rating.Min, Max: cfg.Rating.Max}), nil
}

// ProvideAuthService provides the signup and login service.
func ProvideAuthService(i do.Injector) (*service.AuthService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	tokens := do.MustInvoke[*auth.TokenService](i)
	hasher := do.MustInvoke[*auth.PasswordHasher](i)
	validator := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewAuthService(storeHandle.Store, tokens, hasher, validator, log.WithComponent("auth").Logger), nil
}

// ProvideBookService provides the book mutation coordinator.
func ProvideBookService(i do.Injector) (*service.BookService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	covers := do.MustInvoke[*images.Storage](i)
	processor := do.MustInvoke[*images.Processor](i)
	aggregator := do.MustInvoke[*rating.Aggregator](i)
	validator := do.MustInvoke[*validation.Validator](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	m := do.MustInvoke[*MetricsHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewBookService(
		storeHandle.Store,
		covers,
		processor,
		aggregator,
		validator,
		log.WithComponent("books").Logger,
		service.WithSearcher(indexHandle.SearchIndex),
		service.WithMetrics(m.Collector),
	), nil
}
