package anthropic

import "github.com/Strob0t/turnforge/internal/port/streamadapter"

func init() {
	streamadapter.Register(providerName, func() streamadapter.Adapter {
		return newAdapter()
	})
}
