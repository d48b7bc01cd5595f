package uploadsvc

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricefeed/internal/model"
)

// ErrNoMapper is returned for a pipeline without a product mapper.
var ErrNoMapper = eris.New("uploadsvc: no product mapper for pipeline")

// ProductMapper projects item records onto products.
type ProductMapper interface {
	Map(records []model.Record) []model.Product
}

// ShufersalMapper reads ItemName and ItemPrice. Records without a name or
// with an unparseable price are skipped.
type ShufersalMapper struct{}

func (ShufersalMapper) Map(records []model.Record) []model.Product {
	log := zap.L().With(zap.String("component", "uploadsvc.mapper"), zap.String("pipeline", "shufersal"))
	products := make([]model.Product, 0, len(records))
	for i, rec := range records {
		name := strings.TrimSpace(rec["ItemName"])
		if name == "" {
			log.Warn("skipping record without ItemName", zap.Int("record", i))
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec["ItemPrice"]), 64)
		if err != nil {
			log.Warn("skipping record with invalid ItemPrice",
				zap.Int("record", i),
				zap.String("item_price", rec["ItemPrice"]),
			)
			continue
		}
		products = append(products, model.Product{Name: name, Price: price})
	}
	return products
}

// Mappers resolves product mappers by pipeline name.
type Mappers map[string]ProductMapper

// DefaultMappers returns the mappers for every built-in pipeline.
func DefaultMappers() Mappers {
	return Mappers{"shufersal": ShufersalMapper{}}
}

// MapProducts maps records with the pipeline's mapper.
func (m Mappers) MapProducts(pipeline string, records []model.Record) ([]model.Product, error) {
	mapper, ok := m[pipeline]
	if !ok {
		return nil, eris.Wrapf(ErrNoMapper, "uploadsvc: map %q", pipeline)
	}
	return mapper.Map(records), nil
}
