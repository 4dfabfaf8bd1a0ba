package rpc

import "fmt"

// sdkVersion is the aws-sdk-js release the desktop client embeds; the
// backend's telemetry expects it in the identification string.
const sdkVersion = "2.1575.0"

// MachineIDSource yields the locally persisted machine identifier. The
// store that owns the identifier lives outside this package.
type MachineIDSource interface {
	MachineID() (string, error)
}

// UserAgentProvider builds the backend identification string of the form
// aws-sdk-js/<sdk>/KiroIDE-<appVersion>-<machineId>.
type UserAgentProvider struct {
	appVersion string
	source     MachineIDSource

	cached string
}

// NewUserAgentProvider creates a provider for the given app version.
func NewUserAgentProvider(appVersion string, source MachineIDSource) *UserAgentProvider {
	return &UserAgentProvider{appVersion: appVersion, source: source}
}

// UserAgent returns the identification string. The machine id is resolved
// once and cached; a failing source degrades to "unknown" rather than
// blocking calls.
func (p *UserAgentProvider) UserAgent() string {
	if p.cached == "" {
		machineID := "unknown"
		if p.source != nil {
			if id, err := p.source.MachineID(); err == nil && id != "" {
				machineID = id
			}
		}
		p.cached = fmt.Sprintf("aws-sdk-js/%s/KiroIDE-%s-%s", sdkVersion, p.appVersion, machineID)
	}
	return p.cached
}
