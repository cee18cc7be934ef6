package language

import "time"

func init() {
	Register(Spec{
		Name:          "lua",
		Runtime:       RuntimeLua,
		Isolation:     Isolated,
		Timeout:       10 * time.Second,
		MemoryLimitMB: 50,
	})
}
