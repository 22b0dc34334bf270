package core

import (
	_ "embed"
	"fmt"
	"strings"

	version "github.com/hashicorp/go-version"
)

//go:embed version
var clientVersion string

func ClientVersion() string {
	return strings.TrimSpace(clientVersion)
}

// ProductInfo describes the server answering the Data API.
type ProductInfo struct {
	Name            string `json:"name"`
	BuildDate       string `json:"buildDate"`
	Version         string `json:"version"`
	DateFormat      string `json:"dateFormat"`
	TimeFormat      string `json:"timeFormat"`
	TimeStampFormat string `json:"timeStampFormat"`
}

// SemVer returns the core (x.y.z) server version. FileMaker reports four
// segments (19.4.2.204); the build number is dropped.
func (p ProductInfo) SemVer() (*version.Version, error) {
	sanitized, _ := sanitizeVersion(p.Version)
	v, err := version.NewVersion(sanitized)
	if err != nil {
		return nil, fmt.Errorf("%w: server version %q: %v", ErrDecode, p.Version, err)
	}
	return v.Core(), nil
}

// Satisfies reports whether the server version matches a constraint such as ">= 19.0".
func (p ProductInfo) Satisfies(constraint string) (bool, error) {
	c, err := version.NewConstraint(constraint)
	if err != nil {
		return false, &ValidationError{Field: "version constraint", Reason: err.Error()}
	}
	v, err := p.SemVer()
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// sanitizeVersion truncates all segments above core (x.y.z)
// but preserves pre-release identifiers (e.g., 20.1.0-beta.1 stays as-is)
func sanitizeVersion(v string) (string, bool) {
	v = strings.TrimSpace(v)

	mainAndPrerelease := v
	buildMetadata := ""
	if plusIndex := strings.Index(v, "+"); plusIndex != -1 {
		mainAndPrerelease = v[:plusIndex]
		buildMetadata = v[plusIndex:]
	}

	mainVersion := mainAndPrerelease
	prerelease := ""
	if dashIndex := strings.Index(mainAndPrerelease, "-"); dashIndex != -1 {
		mainVersion = mainAndPrerelease[:dashIndex]
		prerelease = mainAndPrerelease[dashIndex:]
	}

	segments := strings.Split(mainVersion, ".")
	truncated := len(segments) > 3 || buildMetadata != ""
	if len(segments) > 3 {
		mainVersion = strings.Join(segments[:3], ".")
	}
	return mainVersion + prerelease, truncated
}
