package memory

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// productSeed fila del archivo de semilla (yaml, json o toml).
//
//	products:
//	  - id: p-1
//	    sku: SKU-1
//	    name: Tornillo
//	    quantity: 10
//	    minimum_stock: 2
//	    price: "1500.00"
type productSeed struct {
	ID           string `mapstructure:"id"`
	SKU          string `mapstructure:"sku"`
	Name         string `mapstructure:"name"`
	Quantity     int64  `mapstructure:"quantity"`
	MinimumStock *int64 `mapstructure:"minimum_stock"`
	Price        string `mapstructure:"price"`
}

// LoadSeed lee productos iniciales desde un archivo para el driver en memoria.
func LoadSeed(path string) ([]entity.Product, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("leer semilla %s: %w", path, err)
	}
	var rows []productSeed
	if err := v.UnmarshalKey("products", &rows); err != nil {
		return nil, fmt.Errorf("decodificar semilla: %w", err)
	}
	out := make([]entity.Product, 0, len(rows))
	for i, r := range rows {
		if r.ID == "" {
			return nil, fmt.Errorf("semilla fila %d: id requerido", i)
		}
		if r.Quantity < 0 {
			return nil, fmt.Errorf("semilla %s: cantidad negativa", r.ID)
		}
		price := decimal.Zero
		if r.Price != "" {
			p, err := decimal.NewFromString(r.Price)
			if err != nil {
				return nil, fmt.Errorf("semilla %s: precio: %w", r.ID, err)
			}
			price = p
		}
		out = append(out, entity.Product{
			ID:           r.ID,
			SKU:          r.SKU,
			Name:         r.Name,
			Quantity:     r.Quantity,
			MinimumStock: r.MinimumStock,
			Price:        price,
		})
	}
	return out, nil
}

// Seed carga los productos en el almacén.
func (s *Store) Seed(products []entity.Product) {
	for _, p := range products {
		s.PutProduct(p)
	}
}
