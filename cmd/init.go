package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricefeed/internal/config"
	"github.com/sells-group/pricefeed/internal/storage"
	"github.com/sells-group/pricefeed/internal/store"
)

// initStore opens the configured run log and product store and applies its
// schema.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initUploader builds the uploader selected by upload.mode.
func initUploader(c *config.Config) (storage.Uploader, error) {
	switch c.Upload.Mode {
	case "direct":
		m, err := storage.NewMinio(c.Minio)
		if err != nil {
			return nil, eris.Wrap(err, "init minio")
		}
		return m, nil
	case "service":
		return storage.NewServiceClient(c.Upload.ServiceURL, c.Upload.Token, c.HTTP.Timeout()), nil
	default:
		return nil, eris.Errorf("unsupported upload mode: %s", c.Upload.Mode)
	}
}
