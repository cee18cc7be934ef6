package language

import "time"

// BuildDir is a writable, executable scratch mount inside containers that
// compile before running.
const BuildDir = "/build"

// CPP returns a container spec compiling main.cpp with g++ from image.
func CPP(image string) Spec {
	return Spec{
		Name:          "cpp",
		Aliases:       []string{"c++", "cc"},
		Runtime:       RuntimeContainer,
		Isolation:     Isolated,
		Timeout:       20 * time.Second,
		MemoryLimitMB: 256,
		Image:         image,
		FileName:      "main.cpp",
		CompileCmd: []string{
			"g++",
			"/workspace/main.cpp",
			"-O2",
			"-o",
			BuildDir + "/a.out",
		},
		RunCommand: []string{
			BuildDir + "/a.out",
		},
	}
}

// Java returns a container spec compiling Main.java with javac from image.
func Java(image string) Spec {
	return Spec{
		Name:          "java",
		Runtime:       RuntimeContainer,
		Isolation:     Isolated,
		Timeout:       20 * time.Second,
		MemoryLimitMB: 256,
		Image:         image,
		FileName:      "Main.java",

		CompileCmd: []string{
			"javac",
			"-d",
			BuildDir,
			"/workspace/Main.java",
		},

		RunCommand: []string{
			"java",
			"-cp",
			BuildDir,
			"Main",
		},
	}
}
