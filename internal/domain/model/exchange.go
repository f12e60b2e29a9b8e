package model

// ExchangeAddressEntry maps a known exchange deposit address to its owner.
// A nil DestinationTag matches any tag on the address.
type ExchangeAddressEntry struct {
	Address        string  `yaml:"address" json:"address" validate:"required,startswith=r,min=25,max=35"`
	ExchangeName   string  `yaml:"exchange" json:"exchange_name" validate:"required"`
	DestinationTag *uint32 `yaml:"destination_tag,omitempty" json:"destination_tag,omitempty"`
}
