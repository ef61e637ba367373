package anthropic

// BuildCachedSystemBlocks wraps a system prompt in a single block with an
// ephemeral cache breakpoint.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
