package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/errors"
	"github.com/trayvision/trayvision-go/internal/logging"
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("catalog")
	if logger == nil {
		logger = slog.Default().With("service", "catalog")
	}
}

// LoadActive builds an Index from the ACTIVE prototype set in the store.
// Returns ErrNotFound from the datastore when no set is active; callers are
// expected to keep running without an index and report UNKNOWN decisions.
func LoadActive(store datastore.Interface) (*Index, error) {
	set, prototypes, err := store.ActivePrototypeSet()
	if err != nil {
		return nil, err
	}

	itemIDs := make([]int, 0, len(prototypes))
	vectors := make([][]float32, 0, len(prototypes))
	for i := range prototypes {
		var vec []float32
		if err := json.Unmarshal([]byte(prototypes[i].EmbeddingJSON), &vec); err != nil {
			return nil, errors.New(fmt.Errorf("decode embedding for item %d: %w", prototypes[i].ItemID, err)).
				Component("catalog").
				Category(errors.CategoryCatalog).
				Context("set_id", set.ID).
				Build()
		}
		itemIDs = append(itemIDs, prototypes[i].ItemID)
		vectors = append(vectors, vec)
	}

	idx, err := NewIndex(itemIDs, vectors)
	if err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryCatalog).
			Context("set_id", set.ID).
			Build()
	}

	logger.Info("prototype index loaded",
		"set_id", set.ID,
		"entries", idx.Len(),
		"dimension", idx.Dim())
	return idx, nil
}

// BuildSet stores a new prototype set in one batch and returns its id. The
// set is created INACTIVE; call Activate to switch the catalog over.
func BuildSet(store datastore.Interface, notes string, itemIDs []int, vectors [][]float32) (uint, error) {
	if len(itemIDs) != len(vectors) {
		return 0, errors.Newf("item id count %d does not match vector count %d", len(itemIDs), len(vectors)).
			Component("catalog").
			Category(errors.CategoryValidation).
			Build()
	}

	// Validate dimensions up front; NewIndex applies the same rules the
	// loader will at activation time.
	if _, err := NewIndex(itemIDs, vectors); err != nil {
		return 0, errors.New(err).
			Component("catalog").
			Category(errors.CategoryValidation).
			Build()
	}

	set := &datastore.PrototypeSet{
		Status:    datastore.PrototypeSetInactive,
		Notes:     notes,
		CreatedAt: time.Now(),
	}
	if err := store.CreatePrototypeSet(set); err != nil {
		return 0, err
	}

	prototypes := make([]datastore.Prototype, 0, len(itemIDs))
	for i, itemID := range itemIDs {
		encoded, err := json.Marshal(vectors[i])
		if err != nil {
			return 0, errors.New(fmt.Errorf("encode embedding for item %d: %w", itemID, err)).
				Component("catalog").
				Category(errors.CategoryCatalog).
				Build()
		}
		prototypes = append(prototypes, datastore.Prototype{
			SetID:         set.ID,
			ItemID:        itemID,
			EmbeddingJSON: string(encoded),
			CreatedAt:     time.Now(),
		})
	}
	if err := store.AddPrototypes(prototypes); err != nil {
		return 0, err
	}

	logger.Info("prototype set built", "set_id", set.ID, "entries", len(prototypes))
	return set.ID, nil
}

// Activate makes the given set the single ACTIVE one.
func Activate(store datastore.Interface, setID uint) error {
	if err := store.ActivatePrototypeSet(setID); err != nil {
		return err
	}
	logger.Info("prototype set activated", "set_id", setID)
	return nil
}
