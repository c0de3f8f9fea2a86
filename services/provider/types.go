package provider

// Item is one scored match returned by a face-search provider. Image bytes
// may be inlined (Base64) or referenced by URL; ResolveImage picks the first
// usable source.
type Item struct {
	Score    int    `json:"score"`
	URL      string `json:"url"`
	Base64   string `json:"base64,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	ThumbURL string `json:"thumb_url,omitempty"`
}

// Output is the result set of a completed search.
type Output struct {
	Items         []Item  `json:"items"`
	SearchedFaces int     `json:"searchedFaces"`
	TookSeconds   float64 `json:"tookSeconds"`
}

// SearchResult is the final payload of a completed search job.
type SearchResult struct {
	IDSearch string `json:"id_search"`
	Progress int    `json:"progress"`
	Output   Output `json:"output"`
}

// ProgressFunc receives progress updates (0-100) while a search job runs.
type ProgressFunc func(progress int)
