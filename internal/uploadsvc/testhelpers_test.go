package uploadsvc

import (
	"context"
	"sync"

	"github.com/sells-group/pricefeed/internal/events"
	"github.com/sells-group/pricefeed/internal/model"
)

type fakeUploader struct {
	mu           sync.Mutex
	keys         []string
	createBucket []bool
	err          error
}

func (u *fakeUploader) Upload(_ context.Context, _ string, _ []model.Record, key string, createBucket bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.keys = append(u.keys, key)
	u.createBucket = append(u.createBucket, createBucket)
	return nil
}

type fakeProductStore struct {
	pipeline string
	key      string
	products []model.Product
	err      error
}

func (s *fakeProductStore) InsertProducts(_ context.Context, pipeline, storageKey string, products []model.Product) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.pipeline = pipeline
	s.key = storageKey
	s.products = append(s.products, products...)
	return int64(len(products)), nil
}

type fakeNotifier struct {
	events []events.UploadEvent
	err    error
}

func (n *fakeNotifier) Notify(_ context.Context, ev events.UploadEvent) error {
	n.events = append(n.events, ev)
	return n.err
}

func (n *fakeNotifier) Close() error { return nil }

func item(name, price string) model.Record {
	return model.Record{
		"ChainId":    "7290027600007",
		"SubChainId": "001",
		"StoreId":    "042",
		"BikoretNo":  "7",
		"ItemName":   name,
		"ItemPrice":  price,
	}
}
