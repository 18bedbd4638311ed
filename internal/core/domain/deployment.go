package domain

// Deployment represents a running (or stopped) instance of a built image.
type Deployment struct {
	ID       string `json:"id"`
	App      string `json:"app"`
	Image    string `json:"image"`
	Status   string `json:"status"`
	State    string `json:"state"` // running, exited, etc.
	Port     int    `json:"port"`  // host port publishing the app port
	Internal string `json:"internal_ip,omitempty"`
}

// Running reports whether the deployment can receive traffic.
func (d Deployment) Running() bool { return d.State == "running" }
