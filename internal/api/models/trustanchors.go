package models

// TrustAnchorResponse is one configured trust anchor.
type TrustAnchorResponse struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"` // "DS", "DNSKEY" or "NEGATIVE"
	KeyTag     uint16 `json:"key_tag,omitempty"`
	Algorithm  uint8  `json:"algorithm,omitempty"`
	DigestType uint8  `json:"digest_type,omitempty"`
	Digest     string `json:"digest,omitempty"`     // hex
	Flags      uint16 `json:"flags,omitempty"`      // DNSKEY only
	PublicKey  string `json:"public_key,omitempty"` // base64
}

// AddTrustAnchorRequest creates a trust anchor. Digest (hex) is required
// for DS anchors, PublicKey (base64) for DNSKEY anchors; negative
// anchors need only the name.
type AddTrustAnchorRequest struct {
	Name       string `json:"name" binding:"required"`
	Kind       string `json:"kind" binding:"required"`
	KeyTag     uint16 `json:"key_tag"`
	Algorithm  uint8  `json:"algorithm"`
	DigestType uint8  `json:"digest_type"`
	Digest     string `json:"digest"`
	Flags      uint16 `json:"flags"`
	PublicKey  string `json:"public_key"`
}

// CacheFlushResponse reports how many records a flush removed.
type CacheFlushResponse struct {
	Flushed int `json:"flushed"`
}
