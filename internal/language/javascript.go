package language

import "time"

func init() {
	Register(Spec{
		Name:          "javascript",
		Aliases:       []string{"js"},
		Runtime:       RuntimeGoja,
		Isolation:     Isolated,
		Timeout:       10 * time.Second,
		MemoryLimitMB: 50,
	})

	// Shares the JavaScript boundary; the source is not transpiled.
	Register(Spec{
		Name:          "typescript",
		Aliases:       []string{"ts"},
		Runtime:       RuntimeGoja,
		Isolation:     Isolated,
		Timeout:       10 * time.Second,
		MemoryLimitMB: 50,
	})
}
