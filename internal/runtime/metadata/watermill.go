package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// ToWatermill converts relaybox metadata into Watermill message metadata.
func ToWatermill(m Metadata) message.Metadata {
	if len(m) == 0 {
		return message.Metadata{}
	}
	out := make(message.Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FromWatermill converts Watermill message metadata into relaybox metadata.
func FromWatermill(m message.Metadata) Metadata {
	if len(m) == 0 {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
