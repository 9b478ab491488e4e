package models

// RecordResponse is one locally authored record.
type RecordResponse struct {
	Name  string `json:"name"`
	TTL   uint32 `json:"ttl"`
	Type  string `json:"type"`
	RData string `json:"rdata"`
}

// AddRecordRequest creates a locally authored record. RData uses
// zone-file presentation form ("192.0.2.1", "10 mail.example.com.").
type AddRecordRequest struct {
	Name  string `json:"name" binding:"required"`
	TTL   uint32 `json:"ttl"`
	Type  string `json:"type" binding:"required"`
	RData string `json:"rdata" binding:"required"`
}
