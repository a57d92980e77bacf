package downloads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ubuntu/eofetch/internal/eodata"
)

// recordPrefix prefixes the properties holding the catalog record of a product.
const recordPrefix = "record."

// Item is a persisted download request, used to requeue downloads interrupted by a crash.
type Item struct {
	ID           string            `toml:"id" json:"id"`
	ProviderID   string            `toml:"provider" json:"provider"`
	Destination  string            `toml:"destination" json:"destination"`
	LocalArchive string            `toml:"local_archive,omitempty" json:"localArchive,omitempty"`
	ProductIDs   []string          `toml:"products" json:"products"`
	Tiles        []string          `toml:"tiles,omitempty" json:"tiles,omitempty"`
	Properties   map[string]string `toml:"properties,omitempty" json:"properties,omitempty"`
}

// ItemID returns the identifier of a download of productIDs from provider into destination.
// The order of productIDs matters.
func ItemID(productIDs []string, providerID, destination string) string {
	sum := sha256.Sum256([]byte(strings.Join(productIDs, ",") + "|" + providerID + "|" + destination))
	return hex.EncodeToString(sum[:])
}

// NewItem returns an item with its identifier set.
func NewItem(providerID, destination string, productIDs []string) Item {
	return Item{
		ID:          ItemID(productIDs, providerID, destination),
		ProviderID:  providerID,
		Destination: destination,
		ProductIDs:  productIDs,
	}
}

// SetRecord appends p to the products of the item and keeps its record, so that the download can be
// restored without querying the catalog again. The item id is not updated.
func (i *Item) SetRecord(p eodata.ProductRecord) error {
	if p.Name == "" {
		return eodata.ParameterErrorf("product without name")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("could not encode record of %s: %v", p.Name, err)
	}
	if i.Properties == nil {
		i.Properties = make(map[string]string)
	}
	i.Properties[recordPrefix+p.Name] = string(data)
	i.ProductIDs = append(i.ProductIDs, p.Name)
	return nil
}

// Records returns the record of every product of the item, in order. Products without a kept record
// only carry their name, which is enough for layouts deriving every location from it.
func (i Item) Records() ([]eodata.ProductRecord, error) {
	records := make([]eodata.ProductRecord, 0, len(i.ProductIDs))
	for _, name := range i.ProductIDs {
		data, ok := i.Properties[recordPrefix+name]
		if !ok {
			records = append(records, eodata.ProductRecord{ID: name, Name: name})
			continue
		}
		var p eodata.ProductRecord
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("invalid record of %s: %v", name, err)
		}
		records = append(records, p)
	}
	return records, nil
}

// Store persists queued items until their download ends.
//
// Load returns an error matching eodata.ErrNotFound for an unknown id. Remove of an unknown id is not an error.
type Store interface {
	Save(ctx context.Context, item Item) error
	Load(ctx context.Context, id string) (Item, error)
	Remove(ctx context.Context, id string) error
	Restore(ctx context.Context) ([]Item, error)
}
