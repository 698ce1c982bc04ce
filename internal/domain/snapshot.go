package domain

// AddressSnapshot is an immutable copy of a delivery address taken at a
// specific point in a change request's history. A change always produces a
// new snapshot; the old one is retained for audit and diffing.
type AddressSnapshot struct {
	Name    string `json:"name"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
}

// PackageSnapshot is an immutable copy of parcel dimensions, same
// copy-on-change discipline as AddressSnapshot.
type PackageSnapshot struct {
	WeightOz float64 `json:"weightOz"`
	LengthIn float64 `json:"lengthIn"`
	WidthIn  float64 `json:"widthIn"`
	HeightIn float64 `json:"heightIn"`
}
