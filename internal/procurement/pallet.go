package procurement

// DefaultPalletCapacity is used when a product has no pallet weight configured.
const DefaultPalletCapacity = 1000.0

const weightEpsilon = 1e-9

// PalletLoad is a product's total shipping weight and its pallet capacity.
type PalletLoad struct {
	Name            string  `json:"name"`
	TotalWeight     float64 `json:"total_weight"`
	WeightPerPallet float64 `json:"weight_per_pallet"`
}

// PalletContent is the share of one product on a pallet.
type PalletContent struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Label renders the content as "name: 12,5kg".
func (c PalletContent) Label() string {
	return c.Name + ": " + FormatKg(c.Weight)
}

// Pallet is one closed pallet.
type Pallet struct {
	Number   int             `json:"number"`
	Capacity float64         `json:"capacity"`
	Weight   float64         `json:"weight"`
	Contents []PalletContent `json:"contents"`
}

// PackPallets greedily fills shared pallets. Each pallet is sized to the
// largest capacity among products that still have weight, and products are
// loaded in input order. The order is fixed so documents stay reproducible.
func PackPallets(loads []PalletLoad) []Pallet {
	remaining := make([]float64, len(loads))
	capacities := make([]float64, len(loads))
	for i, load := range loads {
		remaining[i] = max(load.TotalWeight, 0)
		capacities[i] = load.WeightPerPallet
		if capacities[i] <= 0 {
			capacities[i] = DefaultPalletCapacity
		}
	}

	var pallets []Pallet
	for {
		capacity := 0.0
		for i := range loads {
			if remaining[i] > weightEpsilon {
				capacity = max(capacity, capacities[i])
			}
		}
		if capacity == 0 {
			return pallets
		}
		pallet := Pallet{Number: len(pallets) + 1, Capacity: capacity}
		for i, load := range loads {
			if remaining[i] <= weightEpsilon {
				continue
			}
			free := capacity - pallet.Weight
			if free <= weightEpsilon {
				break
			}
			take := min(remaining[i], free)
			remaining[i] -= take
			if remaining[i] <= weightEpsilon {
				remaining[i] = 0
			}
			pallet.Weight += take
			pallet.Contents = append(pallet.Contents, PalletContent{Name: load.Name, Weight: take})
		}
		pallets = append(pallets, pallet)
	}
}
