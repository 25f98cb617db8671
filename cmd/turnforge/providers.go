package main

// Stream adapter blank imports: each import registers a provider's chunk
// normalizer under its name.

import (
	_ "github.com/Strob0t/turnforge/internal/adapter/anthropic"
	_ "github.com/Strob0t/turnforge/internal/adapter/openai"
)
