package version

// GitVersion is set at build time with
// -ldflags "-X github.com/PLab-SI/PicoQuake/pkg/version.GitVersion=$(git describe --tags)".
var GitVersion = "dev"
