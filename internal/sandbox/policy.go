package sandbox

// Policy defines resource limits for sandbox execution.
type Policy struct {
	MaxMemory string   // Docker memory limit (e.g. "256m")
	CPUs      string   // Docker CPU limit (e.g. "1")
	PidsLimit int      // max processes inside the container
	Network   bool     // whether network access is allowed
	Images    []string // allowed Docker images
}

// DefaultPolicy returns safe defaults for code execution.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemory: "256m",
		CPUs:      "1",
		PidsLimit: 128,
		Network:   false,
	}
}

// IsImageAllowed checks if an image is on the allowlist. An empty allowlist
// permits any image; the server fills it from the language table.
func (p Policy) IsImageAllowed(image string) bool {
	if len(p.Images) == 0 {
		return true
	}
	for _, allowed := range p.Images {
		if allowed == image {
			return true
		}
	}
	return false
}
