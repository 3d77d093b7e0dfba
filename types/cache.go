package types

import "time"

// CacheStats is the snapshot returned by the byte cache.
type CacheStats struct {
	EntryCount  int    `json:"entryCount"`
	TotalBytes  int64  `json:"totalBytes"`
	BudgetBytes int64  `json:"budgetBytes"`
	HitCount    uint64 `json:"hitCount"`
	MissCount   uint64 `json:"missCount"`
	Evictions   uint64 `json:"evictions"`
	Rejected    uint64 `json:"rejected"`
}

// CacheEntryInfo describes one resident entry, without its bytes.
type CacheEntryInfo struct {
	FileName   string    `json:"fileName"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	Hits       uint64    `json:"hits"`
	LastAccess time.Time `json:"lastAccess"`
}
