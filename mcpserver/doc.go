// Package mcpserver provides the Model Context Protocol (MCP) server
// implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// execution engine as tools. It uses the mark3labs/mcp-go library to handle
// the protocol details and registers five tools: execute_code,
// check_security, debug_and_fix, generate_code and list_languages.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	srv, err := mcpserver.New(cfg, logger, registry, gate, runner, fixer, generator)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = srv.ServeStdio() // or srv.ServeHTTP()
package mcpserver
