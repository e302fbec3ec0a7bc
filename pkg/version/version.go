// Package version holds the release identity of the mycofs binaries.
package version

// Name is the project name as shown in help and version output.
const Name = "mycofs"

// Version is the release version of this build.
const Version = "0.2.0"
