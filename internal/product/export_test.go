package product

// Naming exposes the local file names derived from a product name.
type Naming struct{ n naming }

// NewNaming returns the naming of the product called name.
func NewNaming(name string) Naming { return Naming{newNaming(name)} }

// MetadataFile returns the top level metadata file name.
func (n Naming) MetadataFile() string { return n.n.metadataFile() }

// TileMetadataFile returns the metadata file name of granule id.
func (n Naming) TileMetadataFile(id string) string { return n.n.tileMetadataFile(granule{ID: id}) }

// BandFile returns the band file name of granule id on tile.
func (n Naming) BandFile(id, tile string, b Band) string {
	return n.n.bandFile(granule{ID: id, Tile: tile}, b)
}

// DatastripFolder returns the folder of datastrip id.
func (n Naming) DatastripFolder(id string) string { return n.n.datastripFolder(id) }

// DatastripFile returns the metadata file name of datastrip id.
func (n Naming) DatastripFile(id string) string { return n.n.datastripFile(id) }

// AWSPath returns the key of the product in the public bucket.
func (n Naming) AWSPath() (string, error) { return n.n.awsPath() }

// BandCount returns the number of bands of a granule.
func (n Naming) BandCount() int { return len(n.n.bands()) }

// AWSMaskName is awsMaskName.
var AWSMaskName = awsMaskName
