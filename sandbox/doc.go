// Package sandbox provides the execution backends for untrusted code.
//
// The package defines the Backend interface and three concrete
// implementations: disposable containers (docker or podman), local
// subprocesses, and a remote workspace API. Each backend handles the full
// lifecycle of a single execution including setup, the timeout-supervised
// run, and cleanup of its per-request resources.
//
// Usage:
//
//	backend := sandbox.NewContainerBackend(logger, "docker")
//	result, err := backend.Run(ctx, desc, sandbox.Request{
//	    Language:   "python",
//	    Source:     "print('Hello, World!')",
//	    TimeoutSec: 10,
//	})
package sandbox
