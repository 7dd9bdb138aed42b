// Package cmd implements the tarfs command line: mounting an archive,
// inspecting its index without mounting, and reporting the build version.
package cmd
