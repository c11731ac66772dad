// Package cmd provides the command-line interface for pagegraph.
//
// This package implements the CLI commands using the Cobra framework. Every
// command loads the project configuration through Viper and works on a
// services.Project.
//
// # Available Commands
//
//   - init: Write a starter project
//   - build: Compile every page and its dependencies, then write the manifest
//   - watch: Build, then recompile and cascade hash changes as files change
//   - routes: List the route tree or resolve one location
//   - graph: Show the module dependency graph and its cycles
//   - render: Render one location through the render cache
//   - version: Show build information
//
// # Command Examples
//
//	// Start a project in ./site
//	pagegraph init site
//
//	// Rebuild everything from scratch
//	pagegraph build --clean --force
//
//	// Which modules does /fr/blog/hello load?
//	pagegraph routes --resolve /fr/blog/hello -o json
//
// # Configuration
//
// Commands read .pagegraph.yml from the project root. Any key can be
// overridden with a PAGEGRAPH_ environment variable, for example
// PAGEGRAPH_BUILD_OUT_DIR=dist or PAGEGRAPH_LOG_LEVEL=debug.
//
// # Output Formats
//
// Listing commands support table (the default), json and yaml output
// through --output.
package cmd
