package capability

import "github.com/tjfontaine/polyglot-chat-compiler/internal/pkg/config"

// DefaultModels returns the built-in capability tables.
func DefaultModels() config.ModelsConfig {
	return config.ModelsConfig{
		Vision: config.MatcherConfig{
			Prefixes: []string{
				"gpt-4o", "gpt-4.1", "gpt-4-turbo", "gpt-4-vision", "gpt-5",
				"o1", "o3", "o4",
				"claude-3", "claude-sonnet-4", "claude-opus-4", "claude-haiku-4",
				"gemini-", "gemma-3",
				"qwen-vl", "qwen2-vl", "qwen2.5-vl", "qwen3-vl", "qvq", "qwen-omni",
				"llava", "pixtral", "llama-4", "llama3.2-vision",
				"grok-2-vision", "grok-4",
				"glm-4v", "glm-4.1v", "glm-4.5v",
				"minicpm-v", "internvl", "step-1v", "doubao-seed",
			},
		},
		ImageEnhancement: config.MatcherConfig{
			Exact: []string{"gpt-image-1", "gemini-2.0-flash-preview-image-generation"},
			Patterns: []string{
				`^grok-2-image(-[\w-]+)?$`,
				`^qwen-image-edit`,
				`^gemini-2\.5-flash-image(-[\w-]+)?$`,
			},
		},
		NativeFiles: []config.NativeFileRule{
			{
				Match: config.MatcherConfig{Prefixes: []string{"qwen-long", "qwen-doc"}},
				Mode:  "handle",
			},
			{
				Match: config.MatcherConfig{
					Prefixes: []string{"claude-", "gemini-", "gpt-4o", "gpt-4.1", "gpt-5", "o3", "o4"},
				},
				Mode:       "inline",
				MediaTypes: []string{"application/pdf"},
			},
		},
	}
}
