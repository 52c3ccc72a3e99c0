package models

// LayoutDocument is a declarative page composition: ordered sections of
// ordered blocks. It is interpreted transiently by the block renderer and
// never persisted as its own entity.
type LayoutDocument struct {
	Sections []Section `json:"sections"`
}

// Section groups blocks rendered together in document order
type Section struct {
	Blocks []Block `json:"blocks"`
}

// Block is a single typed UI fragment request with opaque props
type Block struct {
	Type  string                 `json:"type"`
	Props map[string]interface{} `json:"props,omitempty"`
}
