// Package internal contains the core implementation packages for pagegraph.
//
// # Package Organization
//
//   - types: Module, dependency edge and route projection records
//   - errors: Error taxonomy, the build error collector and its handler
//   - logging: Structured logger over log/slog
//   - validation: Module URL and route segment checks
//   - registry: Module record store with dependency graph queries
//   - build: Loaders, the incremental compiler, hash cascade and artifact store
//   - routing: Nested route tree and location resolution
//   - renderer: Render cache, failure boundary and the stack renderer
//   - scanner: Pages directory scanning into route declarations
//   - watcher: Debounced fsnotify watcher
//   - config: Viper-backed configuration and validation
//   - services: The project that wires everything into build, watch and render
//   - version: Build identity
//
// # Data Flow
//
// The scanner turns the pages directory into route declarations. The
// compiler compiles each page and everything it imports, recording modules
// in the registry and writing hashed artifacts. Compiled pages are
// projected into the route tree. A render resolves a location to a module
// stack and memoizes the result in the render cache.
//
// On a file change the compiler recompiles the module and, when its output
// hash changed, cascades the new hash to every importer. Each rewritten
// module refreshes its route projection and evicts the renders that load it.
package internal
