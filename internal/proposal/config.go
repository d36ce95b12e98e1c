package proposal

import (
	"context"
	"time"

	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/recipe"
)

func isNotFound(err error) bool {
	e, ok := err.(*errs.E)
	return ok && e.Kind == errs.KindNotFound
}

// GetConfig returns userEmail's scoring config, or the documented
// defaults if none has ever been saved.
func (e *Engine) GetConfig(ctx context.Context, userEmail string) (Config, error) {
	id, err := e.reg.IDHash(RecipeProposalConfig, recipe.Object{"userEmail": userEmail})
	if err != nil {
		return Config{}, err
	}
	rec, err := e.s.GetCurrent(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return DefaultConfig(userEmail), nil
		}
		return Config{}, err
	}
	return objectToConfig(rec.Obj), nil
}

// PutConfig saves a new version of userEmail's scoring config and
// invalidates the entire proposal cache, since a changed weight can
// change every cached ranking.
func (e *Engine) PutConfig(ctx context.Context, cfg Config) error {
	cfg.Updated = time.Now().UnixMilli()
	_, err := e.s.PutVersioned(ctx, RecipeProposalConfig, configToObject(cfg))
	if err != nil {
		return err
	}
	e.cache.invalidateAll()
	return nil
}
