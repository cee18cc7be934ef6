package language

import "time"

func init() {
	Register(Python)
}

// Python is simulated unless a container runtime takes it over; see
// PythonInContainer.
var Python = Spec{
	Name:          "python",
	Aliases:       []string{"py"},
	Runtime:       RuntimeSimulated,
	Isolation:     Simulated,
	Timeout:       15 * time.Second,
	MemoryLimitMB: 100,
}

// PythonInContainer returns the python spec upgraded to run for real inside
// a container built from image.
func PythonInContainer(image string) Spec {
	spec := Python
	spec.Runtime = RuntimeContainer
	spec.Isolation = Isolated
	spec.Image = image
	spec.FileName = "main.py"
	spec.RunCommand = []string{"python", "-u", "/workspace/main.py"}
	return spec
}
