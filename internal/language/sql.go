package language

import "time"

func init() {
	Register(Spec{
		Name:          "sql",
		Runtime:       RuntimeSimulated,
		Isolation:     Simulated,
		Timeout:       5 * time.Second,
		MemoryLimitMB: 25,
	})
}
